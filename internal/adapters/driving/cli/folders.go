package cli

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/custodia-labs/folderd/internal/adapters/driving/ws"
)

var foldersCmd = &cobra.Command{
	Use:   "folders",
	Short: "Manage indexed folders",
	Long:  `Add, remove and list the folders the daemon indexes. Requires a running daemon.`,
}

var foldersAddCmd = &cobra.Command{
	Use:   "add <path>",
	Short: "Add a folder to the index",
	Args:  cobra.ExactArgs(1),
	RunE:  runFoldersAdd,
}

var foldersRemoveCmd = &cobra.Command{
	Use:   "remove <path>",
	Short: "Remove a folder and delete its index",
	Args:  cobra.ExactArgs(1),
	RunE:  runFoldersRemove,
}

var foldersListCmd = &cobra.Command{
	Use:   "list",
	Short: "List indexed folders and their status",
	RunE:  runFoldersList,
}

func init() {
	foldersAddCmd.Flags().StringP("model", "m", "", "embedding model (default: daemon's configured default)")
	foldersCmd.AddCommand(foldersAddCmd)
	foldersCmd.AddCommand(foldersRemoveCmd)
	foldersCmd.AddCommand(foldersListCmd)
	rootCmd.AddCommand(foldersCmd)
}

func dialDaemon(cmd *cobra.Command) (*ws.Client, error) {
	client, err := ws.Dial(cmd.Context(), flagAddr, "cli")
	if err != nil {
		return nil, fmt.Errorf("is the daemon running? %w", err)
	}
	return client, nil
}

func runFoldersAdd(cmd *cobra.Command, args []string) error {
	path, err := filepath.Abs(args[0])
	if err != nil {
		return fmt.Errorf("resolving path: %w", err)
	}
	model, err := cmd.Flags().GetString("model")
	if err != nil {
		return err
	}

	client, err := dialDaemon(cmd)
	if err != nil {
		return err
	}
	defer client.Close()

	// Validate first so warnings (like ancestor replacement) are shown;
	// the daemon re-validates on the add regardless.
	result, err := client.ValidateFolder(path)
	if err != nil {
		return err
	}
	for _, warning := range result.Warnings {
		cmd.Printf("warning: %s\n", warning)
	}
	if !result.Valid {
		for _, msg := range result.Errors {
			cmd.PrintErrf("error: %s\n", msg)
		}
		return fmt.Errorf("cannot add %s", path)
	}

	if err := client.AddFolder(path, model); err != nil {
		return err
	}
	cmd.Printf("added %s\n", path)
	return nil
}

func runFoldersRemove(cmd *cobra.Command, args []string) error {
	path, err := filepath.Abs(args[0])
	if err != nil {
		return fmt.Errorf("resolving path: %w", err)
	}

	client, err := dialDaemon(cmd)
	if err != nil {
		return err
	}
	defer client.Close()

	if err := client.RemoveFolder(path); err != nil {
		return err
	}
	cmd.Printf("removed %s\n", path)
	return nil
}

func runFoldersList(cmd *cobra.Command, _ []string) error {
	client, err := dialDaemon(cmd)
	if err != nil {
		return err
	}
	defer client.Close()

	folders, err := client.Folders()
	if err != nil {
		return err
	}
	if len(folders) == 0 {
		cmd.Println("no folders configured")
		return nil
	}

	for _, folder := range folders {
		line := fmt.Sprintf("%-10s %6d docs  %s  (%s)", folder.Status, folder.DocumentCount, folder.Path, folder.Model)
		if folder.LastError != "" {
			line += "  error: " + folder.LastError
		}
		cmd.Println(line)
	}
	return nil
}
