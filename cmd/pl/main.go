package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"phaseline/internal/app"
	"phaseline/internal/config"
	"phaseline/internal/db"
	"phaseline/internal/docsync"
	"phaseline/internal/domain"
	"phaseline/internal/engine"
	"phaseline/internal/events"
	"phaseline/internal/migrate"
	"phaseline/internal/repo"
	"phaseline/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "pl",
	Short: "Phaseline CLI",
	Long: `Phaseline coordinates multi-phase, multi-agent software delivery.
- Workspace: your .phaseline directory holding the database; phaseline.yml configures it.
- Project: owns tasks, agent sessions, checkpoints and a mirrored document tree.
- Phases: requirements -> design -> tasks -> execute; a handoff closes one phase and opens the next.
- Tasks: hierarchical work items with ordered requirements and dependencies.
- Sessions: per-agent context maps that merge on save and survive restarts.
- Checkpoints: immutable snapshots of phase state; resume rebuilds from the latest one.
- Documents: specs/ holds human-editable phase docs, tracking/ holds process output.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return nil
	},
}

func main() {
	cobra.OnInitialize(initViper)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initViper() {
	viper.SetEnvPrefix("PHASELINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-user", "actor identifier")
	rootCmd.PersistentFlags().String("project", "", "project id or name")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
	_ = viper.BindPFlag("project", rootCmd.PersistentFlags().Lookup("project"))
}

func registerCommands() {
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(projectCmd())
	rootCmd.AddCommand(taskCmd())
	rootCmd.AddCommand(sessionCmd())
	rootCmd.AddCommand(workflowCmd())
	rootCmd.AddCommand(docsCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(serveCmd())
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{Use: "config", Short: "Manage workspace configuration"}
	cfg.AddCommand(&cobra.Command{
		Use:   "init",
		Short: "Write a default phaseline.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			path := config.Path(workspace)
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault(workspace)), 0o644); err != nil {
				return err
			}
			fmt.Println("wrote", path)
			return nil
		},
	})
	cfg.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := config.Load(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			return printJSON(c)
		},
	})
	return cfg
}

func projectCmd() *cobra.Command {
	prj := &cobra.Command{Use: "project", Short: "Manage projects"}
	prj.AddCommand(projectCreateCmd())
	prj.AddCommand(projectListCmd())
	prj.AddCommand(projectShowCmd())
	prj.AddCommand(projectUpdateCmd())
	prj.AddCommand(projectDeleteCmd())
	return prj
}

func projectCreateCmd() *cobra.Command {
	var desc string
	cmd := &cobra.Command{
		Use:   "create <name>",
		Short: "Create project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := e.CreateProject(ctx, args[0], desc, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	cmd.Flags().StringVar(&desc, "description", "", "project description")
	return cmd
}

func projectListCmd() *cobra.Command {
	var status, phase, name string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List projects",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListProjects(ctx, repo.ProjectFilters{Status: status, Phase: phase, NameContains: name})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Status", "Phase", "Created"})
				for _, p := range items {
					tw.AppendRow(table.Row{p.ID, p.Name, p.Status, p.CurrentPhase, p.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "filter by status")
	cmd.Flags().StringVar(&phase, "phase", "", "filter by current phase")
	cmd.Flags().StringVar(&name, "name", "", "filter by name substring")
	return cmd
}

func projectShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show [id-or-name]",
		Short: "Show project",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				p, err := resolveProjectArg(ctx, r, args)
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
}

func projectUpdateCmd() *cobra.Command {
	var name, desc, status, phase string
	cmd := &cobra.Command{
		Use:   "update [id-or-name]",
		Short: "Update project",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := resolveProjectArg(ctx, e.Repo, args)
				if err != nil {
					return err
				}
				opts := engine.ProjectUpdateOptions{ID: p.ID, ActorID: viper.GetString("actor-id")}
				if cmd.Flags().Changed("name") {
					opts.Name = &name
				}
				if cmd.Flags().Changed("description") {
					opts.Description = &desc
				}
				if cmd.Flags().Changed("status") {
					opts.Status = &status
				}
				if cmd.Flags().Changed("phase") {
					opts.CurrentPhase = &phase
				}
				updated, err := e.UpdateProject(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(updated)
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "new name")
	cmd.Flags().StringVar(&desc, "description", "", "new description")
	cmd.Flags().StringVar(&status, "status", "", "active|paused|completed")
	cmd.Flags().StringVar(&phase, "phase", "", "requirements|design|tasks|execute")
	return cmd
}

func projectDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id-or-name>",
		Short: "Delete project and all dependent records",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := app.ResolveProject(ctx, e.Repo, args[0])
				if err != nil {
					return err
				}
				if err := e.DeleteProject(ctx, p.ID, viper.GetString("actor-id")); err != nil {
					return err
				}
				fmt.Println("deleted", p.ID)
				return nil
			})
		},
	}
}

func taskCmd() *cobra.Command {
	task := &cobra.Command{Use: "task", Short: "Manage tasks"}
	task.AddCommand(taskCreateCmd())
	task.AddCommand(taskListCmd())
	task.AddCommand(taskShowCmd())
	task.AddCommand(taskUpdateCmd())
	task.AddCommand(taskDeleteCmd())
	task.AddCommand(taskDepsCmd())
	task.AddCommand(taskAssignCmd())
	return task
}

func taskCreateCmd() *cobra.Command {
	var desc, phase, status, assignee, parent string
	var priority int
	var reqs, deps []string
	cmd := &cobra.Command{
		Use:   "create <title>",
		Short: "Create task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := resolveProjectArg(ctx, e.Repo, nil)
				if err != nil {
					return err
				}
				t, err := e.CreateTask(ctx, engine.TaskCreateOptions{
					ProjectID:    p.ID,
					ParentID:     parent,
					Title:        args[0],
					Description:  desc,
					Phase:        phase,
					Status:       status,
					AssigneeType: assignee,
					Priority:     priority,
					Requirements: reqs,
					DependsOn:    deps,
					ActorID:      viper.GetString("actor-id"),
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	cmd.Flags().StringVar(&desc, "description", "", "task description")
	cmd.Flags().StringVar(&phase, "phase", "execute", "requirements|design|tasks|execute")
	cmd.Flags().StringVar(&status, "status", "", "pending|in_progress|blocked|completed")
	cmd.Flags().StringVar(&assignee, "assignee", "", "assignee actor type")
	cmd.Flags().StringVar(&parent, "parent", "", "parent task id")
	cmd.Flags().IntVar(&priority, "priority", 0, "priority (lower runs first)")
	cmd.Flags().StringSliceVar(&reqs, "requirement", nil, "acceptance requirement (repeatable)")
	cmd.Flags().StringSliceVar(&deps, "depends-on", nil, "dependency task id (repeatable)")
	return cmd
}

func taskListCmd() *cobra.Command {
	var status, phase, assignee, parent string
	var tree bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := resolveProjectArg(ctx, e.Repo, nil)
				if err != nil {
					return err
				}
				tasks, roots, err := e.QueryTasks(ctx, repo.TaskFilters{
					ProjectID:    p.ID,
					Status:       status,
					Phase:        phase,
					AssigneeType: assignee,
					ParentID:     parent,
				}, tree)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					if tree {
						return printJSON(roots)
					}
					return printJSON(tasks)
				}
				if tree {
					for _, root := range roots {
						printTaskNode(root)
					}
					return nil
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Title", "Phase", "Status", "Priority", "Deps"})
				for _, t := range tasks {
					tw.AppendRow(table.Row{t.ID, t.Title, t.Phase, t.Status, t.Priority, len(t.DependsOn)})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "filter by status")
	cmd.Flags().StringVar(&phase, "phase", "", "filter by phase")
	cmd.Flags().StringVar(&assignee, "assignee", "", "filter by assignee type")
	cmd.Flags().StringVar(&parent, "parent", "", "filter by parent task id")
	cmd.Flags().BoolVar(&tree, "tree", false, "render as hierarchy")
	return cmd
}

func printTaskNode(n *domain.TaskNode) {
	fmt.Printf("%s- [%s] %s (%s)\n", strings.Repeat("  ", n.Depth), n.Task.Status, n.Task.Title, n.Task.ID)
	for _, c := range n.Children {
		printTaskNode(c)
	}
}

func taskShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				t, err := r.GetTask(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
}

func taskUpdateCmd() *cobra.Command {
	var title, desc, phase, status, assignee, parent, note string
	var priority int
	var reqs, deps []string
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Update task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				opts := engine.TaskUpdateOptions{
					ID:      args[0],
					Note:    note,
					ActorID: viper.GetString("actor-id"),
				}
				if cmd.Flags().Changed("title") {
					opts.Title = &title
				}
				if cmd.Flags().Changed("description") {
					opts.Description = &desc
				}
				if cmd.Flags().Changed("phase") {
					opts.Phase = &phase
				}
				if cmd.Flags().Changed("status") {
					opts.Status = &status
				}
				if cmd.Flags().Changed("assignee") {
					opts.AssigneeType = &assignee
				}
				if cmd.Flags().Changed("parent") {
					opts.SetParent = &parent
				}
				if cmd.Flags().Changed("priority") {
					opts.Priority = &priority
				}
				if cmd.Flags().Changed("requirement") {
					opts.Requirements = reqs
				}
				if cmd.Flags().Changed("depends-on") {
					opts.DependsOn = deps
					opts.HasDepends = true
				}
				t, err := e.UpdateTask(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "new title")
	cmd.Flags().StringVar(&desc, "description", "", "new description")
	cmd.Flags().StringVar(&phase, "phase", "", "requirements|design|tasks|execute")
	cmd.Flags().StringVar(&status, "status", "", "pending|in_progress|blocked|completed")
	cmd.Flags().StringVar(&assignee, "assignee", "", "assignee actor type")
	cmd.Flags().StringVar(&parent, "parent", "", "parent task id (empty detaches)")
	cmd.Flags().IntVar(&priority, "priority", 0, "priority (lower runs first)")
	cmd.Flags().StringSliceVar(&reqs, "requirement", nil, "replace requirements (repeatable)")
	cmd.Flags().StringSliceVar(&deps, "depends-on", nil, "replace dependencies (repeatable)")
	cmd.Flags().StringVar(&note, "note", "", "progress note for the task log")
	return cmd
}

func taskDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete task and its descendants",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if err := e.DeleteTask(ctx, args[0], viper.GetString("actor-id")); err != nil {
					return err
				}
				fmt.Println("deleted", args[0])
				return nil
			})
		},
	}
}

func taskDepsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "deps <id>",
		Short: "Check whether a task's dependencies are satisfied",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				satisfied, err := e.CheckDependencies(ctx, args[0])
				if err != nil {
					return err
				}
				deps, err := e.Repo.ListTaskDependencies(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]any{
					"task_id":    args[0],
					"satisfied":  satisfied,
					"depends_on": deps,
				})
			})
		},
	}
}

func taskAssignCmd() *cobra.Command {
	var actorType string
	cmd := &cobra.Command{
		Use:   "assign <id>",
		Short: "Assign a task to an agent session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if actorType == "" {
				return fmt.Errorf("--actor-type required")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				s, err := e.AssignTask(ctx, args[0], actorType)
				if err != nil {
					return err
				}
				return printJSONOrTable(s)
			})
		},
	}
	cmd.Flags().StringVar(&actorType, "actor-type", "", "requirements|design|tasks|implementation")
	return cmd
}

func sessionCmd() *cobra.Command {
	sess := &cobra.Command{Use: "session", Short: "Agent session contexts"}
	sess.AddCommand(sessionSaveCmd())
	sess.AddCommand(sessionLoadCmd())
	return sess
}

func sessionSaveCmd() *cobra.Command {
	var actorType, contextJSON, summary string
	cmd := &cobra.Command{
		Use:   "save",
		Short: "Merge context into an agent session",
		RunE: func(cmd *cobra.Command, args []string) error {
			if actorType == "" {
				return fmt.Errorf("--actor-type required")
			}
			var delta domain.ContextMap
			if contextJSON != "" {
				if err := json.Unmarshal([]byte(contextJSON), &delta); err != nil {
					return fmt.Errorf("parse --context: %w", err)
				}
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := resolveProjectArg(ctx, e.Repo, nil)
				if err != nil {
					return err
				}
				s, err := e.SaveContext(ctx, p.ID, actorType, delta, summary)
				if err != nil {
					return err
				}
				return printJSONOrTable(s)
			})
		},
	}
	cmd.Flags().StringVar(&actorType, "actor-type", "", "requirements|design|tasks|implementation")
	cmd.Flags().StringVar(&contextJSON, "context", "", "context delta as a JSON object")
	cmd.Flags().StringVar(&summary, "summary", "", "session summary")
	return cmd
}

func sessionLoadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "load",
		Short: "Load all session contexts for the project",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := resolveProjectArg(ctx, e.Repo, nil)
				if err != nil {
					return err
				}
				bundle, err := e.LoadAll(ctx, p.ID)
				if err != nil {
					return err
				}
				return printJSONOrTable(bundle)
			})
		},
	}
}

func workflowCmd() *cobra.Command {
	wf := &cobra.Command{Use: "workflow", Short: "Phase transitions and checkpoints"}
	wf.AddCommand(workflowHandoffCmd())
	wf.AddCommand(workflowResumeCmd())
	wf.AddCommand(workflowCheckpointCmd())
	return wf
}

func workflowHandoffCmd() *cobra.Command {
	var phase, deliverablesJSON, notes string
	var completed []string
	cmd := &cobra.Command{
		Use:   "handoff",
		Short: "Checkpoint the current phase and advance to the next",
		RunE: func(cmd *cobra.Command, args []string) error {
			var deliverables domain.ContextMap
			if deliverablesJSON != "" {
				if err := json.Unmarshal([]byte(deliverablesJSON), &deliverables); err != nil {
					return fmt.Errorf("parse --deliverables: %w", err)
				}
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := resolveProjectArg(ctx, e.Repo, nil)
				if err != nil {
					return err
				}
				if phase == "" {
					phase = p.CurrentPhase
				}
				res, err := e.Handoff(ctx, engine.HandoffOptions{
					ProjectID:        p.ID,
					CurrentPhase:     phase,
					Deliverables:     deliverables,
					Notes:            notes,
					CompletedTaskIDs: completed,
					ActorID:          viper.GetString("actor-id"),
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(res)
			})
		},
	}
	cmd.Flags().StringVar(&phase, "phase", "", "phase being closed (defaults to the project's current phase)")
	cmd.Flags().StringVar(&deliverablesJSON, "deliverables", "", "deliverables as a JSON object")
	cmd.Flags().StringVar(&notes, "notes", "", "handoff notes")
	cmd.Flags().StringSliceVar(&completed, "completed", nil, "extra completed task id (repeatable)")
	return cmd
}

func workflowResumeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resume",
		Short: "Reconstruct workflow state from the latest checkpoint",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := resolveProjectArg(ctx, e.Repo, nil)
				if err != nil {
					return err
				}
				state, err := e.Resume(ctx, p.ID)
				if err != nil {
					return err
				}
				return printJSONOrTable(state)
			})
		},
	}
}

func workflowCheckpointCmd() *cobra.Command {
	cp := &cobra.Command{Use: "checkpoint", Short: "Workflow checkpoints"}

	var phase, deliverablesJSON string
	create := &cobra.Command{
		Use:   "create",
		Short: "Create a checkpoint of the current phase state",
		RunE: func(cmd *cobra.Command, args []string) error {
			var deliverables domain.ContextMap
			if deliverablesJSON != "" {
				if err := json.Unmarshal([]byte(deliverablesJSON), &deliverables); err != nil {
					return fmt.Errorf("parse --deliverables: %w", err)
				}
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := resolveProjectArg(ctx, e.Repo, nil)
				if err != nil {
					return err
				}
				if phase == "" {
					phase = p.CurrentPhase
				}
				c, err := e.CreateCheckpoint(ctx, p.ID, phase, deliverables, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(c)
			})
		},
	}
	create.Flags().StringVar(&phase, "phase", "", "phase to snapshot (defaults to the project's current phase)")
	create.Flags().StringVar(&deliverablesJSON, "deliverables", "", "deliverables as a JSON object")
	cp.AddCommand(create)

	cp.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List checkpoints, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := resolveProjectArg(ctx, e.Repo, nil)
				if err != nil {
					return err
				}
				items, err := e.Repo.ListCheckpoints(ctx, p.ID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Phase", "Completed", "Current", "Created"})
				for _, c := range items {
					current := ""
					if c.State.CurrentTask != nil {
						current = *c.State.CurrentTask
					}
					tw.AppendRow(table.Row{c.ID, c.Phase, len(c.State.CompletedTasks), current, c.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	})

	cp.AddCommand(&cobra.Command{
		Use:   "purge",
		Short: "Delete all checkpoints of the project",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := resolveProjectArg(ctx, e.Repo, nil)
				if err != nil {
					return err
				}
				n, err := e.PurgeCheckpoints(ctx, p.ID, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				fmt.Println("purged", n, "checkpoints")
				return nil
			})
		},
	})

	return cp
}

func docsCmd() *cobra.Command {
	docs := &cobra.Command{Use: "docs", Short: "Mirrored document tree"}
	docs.AddCommand(docsHistoryCmd())
	docs.AddCommand(docsReconcileCmd())
	docs.AddCommand(docsStatusCmd())
	docs.AddCommand(docsWatchCmd())
	return docs
}

func docsHistoryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "history",
		Short: "Concatenated document history for the project",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := resolveProjectArg(ctx, e.Repo, nil)
				if err != nil {
					return err
				}
				history, err := e.Docs.History(p)
				if err != nil {
					return err
				}
				fmt.Println(history)
				return nil
			})
		},
	}
}

func docsReconcileCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile",
		Short: "Re-mirror store state into the document tree",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := resolveProjectArg(ctx, e.Repo, nil)
				if err != nil {
					return err
				}
				if err := e.Docs.Reconcile(p); err != nil {
					return err
				}
				fmt.Println("reconciled", p.Name)
				return nil
			})
		},
	}
}

func docsStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <doc>",
		Short: "Completeness status for a phase document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := resolveProjectArg(ctx, e.Repo, nil)
				if err != nil {
					return err
				}
				complete, reason, err := e.Docs.CheckDocument(p.Name, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]any{
					"doc":      args[0],
					"complete": complete,
					"reason":   reason,
				})
			})
		},
	}
}

func docsWatchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Watch spec documents and report completeness on change",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				fmt.Println("watching", e.Docs.SpecsRoot)
				return e.Docs.Watch(ctx, func(change docsync.DocChange) {
					state := "complete"
					if !change.Complete {
						state = "incomplete: " + change.Reason
					}
					fmt.Printf("%s %s\n", change.Path, state)
					if err := recordExternalEdit(ctx, e, change); err != nil {
						e.Warnf("docs: external edit event: %v", err)
					}
				})
			})
		},
	}
}

// recordExternalEdit audits an externally edited spec document; the watcher
// itself stays file-system-only.
func recordExternalEdit(ctx context.Context, e engine.Engine, change docsync.DocChange) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Events.Append(ctx, tx, "docs.external_edit", "", "document", change.Doc, viper.GetString("actor-id"), events.EventPayload{
		"path":     change.Path,
		"complete": change.Complete,
	}); err != nil {
		return err
	}
	return tx.Commit()
}

func logCmd() *cobra.Command {
	log := &cobra.Command{Use: "log", Short: "Event log"}
	var limit int
	var evtType string
	tail := &cobra.Command{
		Use:   "tail",
		Short: "Show recent audit events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				projectID := ""
				if ref := viper.GetString("project"); ref != "" {
					p, err := app.ResolveProject(ctx, r, ref)
					if err != nil {
						return err
					}
					projectID = p.ID
				}
				items, err := r.LatestEvents(ctx, limit, projectID, evtType)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"At", "Type", "Entity", "Actor"})
				for _, evt := range items {
					tw.AppendRow(table.Row{evt.TS, evt.Type, evt.EntityKind + "/" + evt.EntityID, evt.ActorID})
				}
				tw.Render()
				return nil
			})
		},
	}
	tail.Flags().IntVar(&limit, "limit", 50, "number of events")
	tail.Flags().StringVar(&evtType, "type", "", "filter by event type")
	log.AddCommand(tail)
	return log
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			cfg, err := config.Load(workspace)
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			e := engine.New(conn, cfg)
			handler, err := server.New(server.Config{
				Engine:   e,
				BasePath: basePath,
				Auth:     server.AuthConfig{Secret: cfg.API.AuthSecret},
			})
			if err != nil {
				return err
			}
			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			fmt.Printf("Serving Phaseline API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs)\n", addr, basePath, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	return cmd
}

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	cfg, err := config.Load(workspace)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	return fn(ctx, engine.New(conn, cfg))
}

func withRepo(ctx context.Context, fn func(context.Context, repo.Repo) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	return fn(ctx, repo.Repo{DB: conn})
}

// resolveProjectArg resolves the project from the positional arg when given,
// otherwise from --project, otherwise the workspace's single project.
func resolveProjectArg(ctx context.Context, r repo.Repo, args []string) (domain.Project, error) {
	ref := viper.GetString("project")
	if len(args) > 0 && args[0] != "" {
		ref = args[0]
	}
	return app.ResolveProject(ctx, r, ref)
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(b))
	return nil
}
