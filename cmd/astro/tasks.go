package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/astrotask/astrotask"
	"github.com/astrotask/astrotask/internal/types"
)

var addCmd = &cobra.Command{
	Use:   "add [title]",
	Short: "Create a task and print its ID",
	Args:  cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		c := mustClient(cmd)

		parent, _ := cmd.Flags().GetString("parent")
		description, _ := cmd.Flags().GetString("description")
		priority, _ := cmd.Flags().GetInt("priority")

		task := &astrotask.Task{
			Title:         strings.Join(args, " "),
			PriorityScore: priority,
		}
		if parent != "" {
			task.ParentID = &parent
		}
		if description != "" {
			task.Description = &description
		}
		if err := c.Store().AddTask(cmd.Context(), task); err != nil {
			FatalError("%v", err)
		}
		fmt.Println(task.ID)
	},
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List tasks in canonical order",
	Run: func(cmd *cobra.Command, args []string) {
		c := mustClient(cmd)

		statuses, _ := cmd.Flags().GetStringSlice("status")
		parent, _ := cmd.Flags().GetString("parent")
		includeRoot, _ := cmd.Flags().GetBool("root")

		filter := astrotask.ListFilter{IncludeProjectRoot: includeRoot}
		for _, s := range statuses {
			status := types.Status(s)
			if !status.IsValid() {
				FatalError("invalid status: %s", s)
			}
			filter.Statuses = append(filter.Statuses, status)
		}
		if parent != "" {
			filter.ParentID = &parent
		}

		tasks, err := c.Store().ListTasks(cmd.Context(), filter)
		if err != nil {
			FatalError("%v", err)
		}
		for _, task := range tasks {
			fmt.Printf("%-24s %-12s %3d  %s\n", task.ID, task.Status, task.PriorityScore, task.Title)
		}
	},
}

var nextCmd = &cobra.Command{
	Use:   "next",
	Short: "Show the highest-ranked task that is ready to start",
	Run: func(cmd *cobra.Command, args []string) {
		c := mustClient(cmd)

		filter := astrotask.TaskFilter{}
		if cmd.Flags().Changed("min-priority") {
			min, _ := cmd.Flags().GetInt("min-priority")
			filter.PriorityScore = &min
		}
		if parent, _ := cmd.Flags().GetString("parent"); parent != "" {
			filter.ParentID = &parent
		}

		task, err := c.NextTask(cmd.Context(), filter)
		if err != nil {
			FatalError("%v", err)
		}
		if task == nil {
			fmt.Println("No tasks available.")
			return
		}
		fmt.Printf("%s  %s (priority %d)\n", task.ID, task.Title, task.PriorityScore)
	},
}

var doneCmd = &cobra.Command{
	Use:   "done [id]",
	Short: "Mark a task done and report what it unblocks",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		c := mustClient(cmd)
		cascade, _ := cmd.Flags().GetBool("cascade")

		result, err := c.CompleteTask(cmd.Context(), args[0], cascade)
		if err != nil {
			FatalError("%v", err)
		}
		fmt.Printf("Completed %s\n", result.Task.ID)
		for _, task := range result.Unblocked {
			fmt.Printf("Unblocked: %s  %s\n", task.ID, task.Title)
		}
		if result.NextTask != nil {
			fmt.Printf("Next up: %s  %s\n", result.NextTask.ID, result.NextTask.Title)
		}
	},
}

func init() {
	addCmd.Flags().String("parent", "", "parent task ID (default project root)")
	addCmd.Flags().String("description", "", "task description")
	addCmd.Flags().Int("priority", 0, "priority score 0-100 (default 50)")

	listCmd.Flags().StringSlice("status", nil, "filter by status (repeatable)")
	listCmd.Flags().String("parent", "", "only direct children of this task")
	listCmd.Flags().Bool("root", false, "include the synthetic project root")

	nextCmd.Flags().Int("min-priority", 0, "minimum priority score")
	nextCmd.Flags().String("parent", "", "only consider children of this task")

	doneCmd.Flags().Bool("cascade", false, "also mark every descendant done")
}
