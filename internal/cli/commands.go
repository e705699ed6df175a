package cli

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/abdul-hamid-achik/safe/internal/client"
)

var loginCmd = &cobra.Command{
	Use:   "login <username>",
	Short: "Authenticate and print an API token",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Fprint(cmd.OutOrStdout(), "Password: ")
		var password string
		if _, err := fmt.Fscanln(cmd.InOrStdin(), &password); err != nil {
			return err
		}
		tok, err := apiClient.Login(rootCtx, args[0], password)
		if err != nil {
			return err
		}
		printer.Success("Authenticated. Export SAFE_TOKEN=%s", tok)
		return nil
	},
}

var (
	uploadAlbum string
	uploadAge   string
)

var uploadCmd = &cobra.Command{
	Use:   "upload <file>...",
	Short: "Upload files",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var all []client.UploadedFile
		for _, path := range args {
			files, err := apiClient.Upload(rootCtx, path, uploadAlbum, uploadAge, !quietMode && !jsonOutput)
			if err != nil {
				return fmt.Errorf("failed to upload %s: %w", path, err)
			}
			all = append(all, files...)
		}
		if jsonOutput {
			printer.JSON(all)
			return nil
		}
		for _, f := range all {
			if f.Repeated {
				printer.Info("%s (already uploaded)", f.URL)
			} else {
				printer.Success("%s", f.URL)
			}
		}
		return nil
	},
}

var (
	listPage    int
	listFilters string
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List your uploads",
	RunE: func(cmd *cobra.Command, args []string) error {
		files, count, err := apiClient.List(rootCtx, listPage, listFilters)
		if err != nil {
			return err
		}
		if jsonOutput {
			printer.JSON(map[string]any{"files": files, "count": count})
			return nil
		}
		rows := make([][]string, len(files))
		for i, f := range files {
			expiry := "-"
			if f.ExpiryDate > 0 {
				expiry = time.Unix(f.ExpiryDate, 0).Format(time.RFC3339)
			}
			rows[i] = []string{
				strconv.FormatInt(f.ID, 10),
				f.Name,
				strconv.FormatInt(f.Size, 10),
				time.Unix(f.Timestamp, 0).Format("2006-01-02 15:04"),
				expiry,
			}
		}
		printer.Table([]string{"ID", "NAME", "SIZE", "UPLOADED", "EXPIRES"}, rows)
		printer.Info("%d of %d uploads", len(files), count)
		return nil
	},
}

var deleteCmd = &cobra.Command{
	Use:   "delete <id|name> <value>...",
	Short: "Delete uploads by id or name",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		field := args[0]
		if field != "id" && field != "name" {
			return fmt.Errorf("field must be id or name, got %q", field)
		}
		failed, err := apiClient.Delete(rootCtx, field, args[1:])
		if err != nil {
			return err
		}
		if len(failed) > 0 {
			printer.Warn("failed to delete: %v", failed)
			return nil
		}
		printer.Success("Deleted %d upload(s)", len(args)-1)
		return nil
	},
}

var albumCmd = &cobra.Command{
	Use:   "album",
	Short: "Album operations",
}

var albumCreateCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Create an album",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := apiClient.CreateAlbum(rootCtx, args[0], "")
		if err != nil {
			return err
		}
		printer.Success("Album %d created", id)
		return nil
	},
}

var albumZipCmd = &cobra.Command{
	Use:   "zip <identifier> [dest]",
	Short: "Download an album archive",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		dest := args[0] + ".zip"
		if len(args) > 1 {
			dest = args[1]
		}
		if err := apiClient.DownloadAlbumZip(rootCtx, args[0], dest); err != nil {
			return err
		}
		printer.Success("Saved %s", dest)
		return nil
	},
}

func init() {
	uploadCmd.Flags().StringVar(&uploadAlbum, "album", "", "album id to upload into")
	uploadCmd.Flags().StringVar(&uploadAge, "age", "", "retention age in hours")
	listCmd.Flags().IntVar(&listPage, "page", 0, "page number")
	listCmd.Flags().StringVar(&listFilters, "filters", "", "search filter expression")
	albumCmd.AddCommand(albumCreateCmd)
	albumCmd.AddCommand(albumZipCmd)
}
