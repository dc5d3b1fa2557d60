package cli

import (
	"fmt"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/amirbrooks/tasker-engine/internal/config"
	"github.com/amirbrooks/tasker-engine/internal/store"
)

const shortID = 8

func (a *app) addCommand() *cobra.Command {
	var category string
	cmd := &cobra.Command{
		Use:   `add "<title>" [--category <name>]`,
		Short: "Add a task at the end of its category",
		Args:  minArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := a.open(cmd.Context())
			if err != nil {
				return err
			}
			defer e.close()
			task, err := e.store.Create(cmd.Context(), strings.Join(args, " "), category)
			if task == nil {
				return err
			}
			if a.gf.JSON {
				if jerr := a.writeJSON(map[string]any{"task": task}); jerr != nil {
					return jerr
				}
				return err
			}
			fmt.Fprintf(a.stdout, "Added %s [%s] %s\n", task.IDShort(shortID), task.Category, task.Title)
			return err
		},
	}
	cmd.Flags().StringVarP(&category, "category", "c", "", "category (default: settings default)")
	return cmd
}

func (a *app) listCommand() *cobra.Command {
	var category string
	cmd := &cobra.Command{
		Use:     "ls [--category <name>]",
		Aliases: []string{"list"},
		Short:   "List active tasks grouped by category",
		Args:    exactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := a.open(cmd.Context())
			if err != nil {
				return err
			}
			defer e.close()
			groups := e.store.ActiveByCategory()
			if category != "" {
				var kept []store.CategoryGroup
				for _, g := range groups {
					if strings.EqualFold(g.Category, category) {
						kept = append(kept, g)
					}
				}
				groups = kept
			}
			if a.gf.JSON {
				return a.writeJSON(map[string]any{"groups": groups})
			}
			if len(groups) == 0 {
				fmt.Fprintln(a.stdout, "No active tasks.")
				return nil
			}
			w := tabwriter.NewWriter(a.stdout, 2, 4, 2, ' ', 0)
			fmt.Fprintln(w, "CATEGORY\tID\tST\tORD\tTITLE")
			for _, g := range groups {
				for _, t := range g.Tasks {
					fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n", g.Category, t.IDShort(shortID), t.StatusAbbrev(), t.Order, t.Title)
				}
			}
			return w.Flush()
		},
	}
	cmd.Flags().StringVarP(&category, "category", "c", "", "only this category")
	return cmd
}

func (a *app) historyCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "history",
		Short: "List completed tasks grouped by day, newest first",
		Args:  exactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := a.open(cmd.Context())
			if err != nil {
				return err
			}
			defer e.close()
			groups := e.store.CompletedByDay()
			if a.gf.JSON {
				return a.writeJSON(map[string]any{"groups": groups})
			}
			if len(groups) == 0 {
				fmt.Fprintln(a.stdout, "No completed tasks.")
				return nil
			}
			loc, _ := e.cfg.Location()
			w := tabwriter.NewWriter(a.stdout, 2, 4, 2, ' ', 0)
			fmt.Fprintln(w, "DAY\tID\tCATEGORY\tDONE\tTITLE")
			for _, g := range groups {
				for _, t := range g.Tasks {
					fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", g.Label, t.IDShort(shortID), t.Category, t.CompletedTime().In(loc).Format("15:04"), t.Title)
				}
			}
			return w.Flush()
		},
	}
}

func (a *app) doneCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "done <id-or-prefix>",
		Short: "Toggle a task between open and done",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := a.open(cmd.Context())
			if err != nil {
				return err
			}
			defer e.close()
			id, err := resolveID(e.store, args[0])
			if err != nil {
				return err
			}
			task, err := e.store.ToggleComplete(cmd.Context(), id)
			if task == nil {
				return err
			}
			if a.gf.JSON {
				if jerr := a.writeJSON(map[string]any{"task": task}); jerr != nil {
					return jerr
				}
				return err
			}
			if task.Completed {
				fmt.Fprintf(a.stdout, "Done %s\n", task.IDShort(shortID))
			} else {
				fmt.Fprintf(a.stdout, "Reopened %s\n", task.IDShort(shortID))
			}
			return err
		},
	}
}

func (a *app) editCommand() *cobra.Command {
	var title, category string
	cmd := &cobra.Command{
		Use:   "edit <id-or-prefix> [--title <t>] [--category <c>]",
		Short: "Change a task's title or category",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var patch store.TaskPatch
			if cmd.Flags().Changed("title") {
				patch.Title = &title
			}
			if cmd.Flags().Changed("category") {
				patch.Category = &category
			}
			if patch.Title == nil && patch.Category == nil {
				return usagef("edit: nothing to change; pass --title or --category")
			}
			e, err := a.open(cmd.Context())
			if err != nil {
				return err
			}
			defer e.close()
			id, err := resolveID(e.store, args[0])
			if err != nil {
				return err
			}
			task, err := e.store.Update(cmd.Context(), id, patch)
			if task == nil {
				return err
			}
			if a.gf.JSON {
				if jerr := a.writeJSON(map[string]any{"task": task}); jerr != nil {
					return jerr
				}
				return err
			}
			fmt.Fprintf(a.stdout, "Updated %s [%s] %s\n", task.IDShort(shortID), task.Category, task.Title)
			return err
		},
	}
	cmd.Flags().StringVarP(&title, "title", "t", "", "new title")
	cmd.Flags().StringVarP(&category, "category", "c", "", "new category")
	return cmd
}

func (a *app) moveCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "mv <id-or-prefix> <position>",
		Short: "Move an open task to a zero-based position in its category",
		Args:  exactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			pos, err := strconv.Atoi(args[1])
			if err != nil {
				return usagef("mv: position must be an integer, got %q", args[1])
			}
			e, err := a.open(cmd.Context())
			if err != nil {
				return err
			}
			defer e.close()
			id, err := resolveID(e.store, args[0])
			if err != nil {
				return err
			}
			err = e.store.Reorder(cmd.Context(), id, pos)
			if err != nil && !isSaveFailed(err) {
				return err
			}
			task, terr := e.store.Task(id)
			if terr != nil {
				return terr
			}
			if a.gf.JSON {
				if jerr := a.writeJSON(map[string]any{"task": task}); jerr != nil {
					return jerr
				}
				return err
			}
			fmt.Fprintf(a.stdout, "Moved %s -> %s #%d\n", task.IDShort(shortID), task.Category, task.Order)
			return err
		},
	}
}

func (a *app) removeCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "rm <id-or-prefix>",
		Aliases: []string{"delete"},
		Short:   "Delete a task",
		Args:    exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := a.open(cmd.Context())
			if err != nil {
				return err
			}
			defer e.close()
			id, err := resolveID(e.store, args[0])
			if err != nil {
				return err
			}
			removed, err := e.store.Delete(cmd.Context(), id)
			if !removed && err == nil {
				return fmt.Errorf("%w: %s", store.ErrNotFound, id)
			}
			if a.gf.JSON {
				if jerr := a.writeJSON(map[string]any{"deleted": id}); jerr != nil {
					return jerr
				}
				return err
			}
			fmt.Fprintf(a.stdout, "Deleted %s\n", id)
			return err
		},
	}
}

func (a *app) categoryCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "category <ls|add>",
		Short: "List or add categories",
		Args:  exactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			return usagef("usage: tasker category <ls|add> ...")
		},
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "ls",
			Short: "List categories",
			Args:  exactArgs(0),
			RunE: func(cmd *cobra.Command, args []string) error {
				e, err := a.open(cmd.Context())
				if err != nil {
					return err
				}
				defer e.close()
				return a.printCategories(e)
			},
		},
		&cobra.Command{
			Use:   `add "<name>"`,
			Short: "Add a category",
			Args:  minArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				e, err := a.open(cmd.Context())
				if err != nil {
					return err
				}
				defer e.close()
				err = e.store.AddCategory(cmd.Context(), strings.Join(args, " "))
				if err != nil && !isSaveFailed(err) {
					return err
				}
				if perr := a.printCategories(e); perr != nil {
					return perr
				}
				return err
			},
		},
	)
	return cmd
}

func (a *app) printCategories(e *env) error {
	cats := e.store.Categories()
	def := e.store.Settings().DefaultCategory
	if a.gf.JSON {
		return a.writeJSON(map[string]any{"categories": cats, "defaultCategory": def})
	}
	for _, c := range cats {
		marker := " "
		if c == def {
			marker = "*"
		}
		fmt.Fprintf(a.stdout, "%s %s\n", marker, c)
	}
	return nil
}

func (a *app) configCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "config <show|set-default>",
		Aliases: []string{"cfg"},
		Short:   "Show configuration or change the default category",
		Args:    exactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			return usagef("usage: tasker config <show|set-default> ...")
		},
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "show",
			Short: "Show resolved configuration",
			Args:  exactArgs(0),
			RunE: func(cmd *cobra.Command, args []string) error {
				e, err := a.open(cmd.Context())
				if err != nil {
					return err
				}
				defer e.close()
				settings := e.store.Settings()
				if a.gf.JSON {
					return a.writeJSON(map[string]any{
						"root":     a.gf.Root,
						"config":   e.cfg,
						"settings": settings,
					})
				}
				w := tabwriter.NewWriter(a.stdout, 2, 4, 2, ' ', 0)
				fmt.Fprintln(w, "KEY\tVALUE")
				fmt.Fprintf(w, "root\t%s\n", a.gf.Root)
				fmt.Fprintf(w, "config_path\t%s\n", config.Path(a.gf.Root))
				fmt.Fprintf(w, "backend\t%s\n", e.cfg.Backend)
				fmt.Fprintf(w, "format\t%s\n", e.cfg.Format)
				fmt.Fprintf(w, "key\t%s\n", e.cfg.Key)
				fmt.Fprintf(w, "grace\t%s\n", e.cfg.Grace)
				fmt.Fprintf(w, "timezone\t%s\n", e.cfg.Timezone)
				fmt.Fprintf(w, "log_level\t%s\n", e.cfg.LogLevel)
				fmt.Fprintf(w, "listen\t%s\n", e.cfg.Listen)
				fmt.Fprintf(w, "default_category\t%s\n", settings.DefaultCategory)
				return w.Flush()
			},
		},
		&cobra.Command{
			Use:   `set-default "<category>"`,
			Short: "Set the category new tasks land in",
			Args:  minArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				e, err := a.open(cmd.Context())
				if err != nil {
					return err
				}
				defer e.close()
				name := strings.Join(args, " ")
				err = e.store.SetDefaultCategory(cmd.Context(), name)
				if err != nil && !isSaveFailed(err) {
					return err
				}
				if a.gf.JSON {
					if jerr := a.writeJSON(map[string]any{"settings": e.store.Settings()}); jerr != nil {
						return jerr
					}
					return err
				}
				fmt.Fprintf(a.stdout, "Default category: %s\n", e.store.Settings().DefaultCategory)
				return err
			},
		},
	)
	return cmd
}

func (a *app) clearCommand() *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "clear --yes",
		Short: "Delete every task and reset categories and settings",
		Args:  exactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return usagef("clear: refusing without --yes")
			}
			e, err := a.open(cmd.Context())
			if err != nil {
				return err
			}
			defer e.close()
			if err := e.store.Reset(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(a.stdout, "Cleared all tasks.")
			return nil
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "confirm")
	return cmd
}
