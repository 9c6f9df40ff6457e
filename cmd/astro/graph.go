package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/astrotask/astrotask"
)

var depCmd = &cobra.Command{
	Use:   "dep",
	Short: "Manage blocking dependencies between tasks",
}

var depAddCmd = &cobra.Command{
	Use:   "add [dependent] [dependency]",
	Short: "Make the first task wait on the second",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		c := mustClient(cmd)
		dep, err := c.Store().AddTaskDependency(cmd.Context(), args[0], args[1])
		if err != nil {
			FatalError("%v", err)
		}
		fmt.Printf("%s now waits on %s\n", dep.DependentTaskID, dep.DependencyTaskID)
	},
}

var depRemoveCmd = &cobra.Command{
	Use:   "remove [dependent] [dependency]",
	Short: "Remove a blocking edge",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		c := mustClient(cmd)
		removed, err := c.Store().RemoveTaskDependency(cmd.Context(), args[0], args[1])
		if err != nil {
			FatalError("%v", err)
		}
		if !removed {
			FatalError("no such dependency: %s -> %s", args[0], args[1])
		}
		fmt.Printf("%s no longer waits on %s\n", args[0], args[1])
	},
}

var contextCmd = &cobra.Command{
	Use:   "context",
	Short: "Attach or read context slices on a task",
}

var contextAddCmd = &cobra.Command{
	Use:   "add [taskId] [title]",
	Short: "Attach a context slice",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		c := mustClient(cmd)
		description, _ := cmd.Flags().GetString("description")
		ctype, _ := cmd.Flags().GetString("type")

		slice := &astrotask.ContextSlice{
			TaskID:      args[0],
			Title:       args[1],
			Description: description,
			ContextType: ctype,
		}
		if err := c.Store().AddContextSlice(cmd.Context(), slice); err != nil {
			FatalError("%v", err)
		}
		fmt.Println(slice.ID)
	},
}

var contextListCmd = &cobra.Command{
	Use:   "list [taskId]",
	Short: "List a task's context slices",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		c := mustClient(cmd)
		slices, err := c.Store().ListContextSlices(cmd.Context(), args[0])
		if err != nil {
			FatalError("%v", err)
		}
		for _, slice := range slices {
			fmt.Printf("[%s] %s: %s\n", slice.ContextType, slice.Title, slice.Description)
		}
	},
}

var unlockCmd = &cobra.Command{
	Use:   "unlock [dbPath]",
	Short: "Force-remove a stale database lock",
	Long: `Removes the .lock file next to a database without opening it.
Only use this after the process named in the lock has died; evicting a
live holder corrupts nothing but makes two writers race for the lock.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		holder, err := astrotask.ForceUnlock(args[0])
		if err != nil {
			FatalError("%v", err)
		}
		if holder == nil {
			fmt.Println("No lock present.")
			return
		}
		fmt.Printf("Evicted lock held by %s (pid %d on %s)\n", holder.Process, holder.PID, holder.Host)
	},
}

func init() {
	contextAddCmd.Flags().String("description", "", "slice body")
	contextAddCmd.Flags().String("type", "general", "slice type (research, decision, ...)")

	depCmd.AddCommand(depAddCmd, depRemoveCmd)
	contextCmd.AddCommand(contextAddCmd, contextListCmd)
}
