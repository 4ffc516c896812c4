package main

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"os/exec"

	"github.com/spf13/cobra"

	"github.com/swipeapply/applyd/internal/config"
)

// --- queue ---

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Manage the application queue",
}

var queueAddCmd = &cobra.Command{
	Use:   "add <job-id>",
	Short: "Queue a job posting for application",
	Long: `Queue a job posting for application.

Re-adding an existing job ID replaces the record and resets it to queued.

Examples:
  applyd queue add acme-123 --url https://jobs.acme.com/123/apply --title "Backend Engineer" --company Acme
  applyd queue add acme-123 --url https://jobs.acme.com/123/apply --force`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		applyURL, _ := cmd.Flags().GetString("url")
		title, _ := cmd.Flags().GetString("title")
		company, _ := cmd.Flags().GetString("company")
		force, _ := cmd.Flags().GetBool("force")

		if applyURL == "" {
			return fmt.Errorf("--url is required")
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		req := map[string]any{
			"job_id":    args[0],
			"apply_url": applyURL,
			"title":     title,
			"company":   company,
			"force":     force,
		}
		resp, err := client.post(cmd.Context(), "/queue", req)
		if err != nil {
			return err
		}

		var rec struct {
			JobID  string `json:"job_id"`
			Status string `json:"status"`
		}
		if err := decodeJSON(resp, &rec); err != nil {
			return err
		}

		printSuccess("Queued %s (%s)", rec.JobID, rec.Status)
		return nil
	},
}

var queueListCmd = &cobra.Command{
	Use:   "list",
	Short: "List queued applications",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/queue")
		if err != nil {
			return err
		}

		var records []struct {
			JobID string `json:"job_id"`
			Job   struct {
				Title   string `json:"title"`
				Company string `json:"company"`
			} `json:"job"`
			Status string `json:"status"`
			Error  string `json:"error"`
		}
		if err := decodeJSON(resp, &records); err != nil {
			return err
		}

		if len(records) == 0 {
			fmt.Println("Queue is empty.")
			return nil
		}

		for _, r := range records {
			line := fmt.Sprintf("%s  %-8s  %s", colorize(colorCyan, r.JobID), colorize(statusColor(r.Status), r.Status), r.Job.Title)
			if r.Job.Company != "" {
				line += " @ " + r.Job.Company
			}
			fmt.Println(line)
			if r.Error != "" {
				fmt.Printf("    %s\n", colorize(colorRed, r.Error))
			}
		}
		return nil
	},
}

var queueRetryCmd = &cobra.Command{
	Use:   "retry <job-id>",
	Short: "Re-queue a failed application",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/queue/"+url.PathEscape(args[0])+"/retry", nil)
		if err != nil {
			return err
		}

		var rec struct {
			JobID  string `json:"job_id"`
			Status string `json:"status"`
		}
		if err := decodeJSON(resp, &rec); err != nil {
			return err
		}

		printSuccess("Re-queued %s", rec.JobID)
		return nil
	},
}

var queueRemoveCmd = &cobra.Command{
	Use:   "remove <job-id>",
	Short: "Remove an application from the queue",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.delete(cmd.Context(), "/queue/"+url.PathEscape(args[0]))
		if err != nil {
			return err
		}

		var result map[string]string
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("Removed %s", args[0])
		return nil
	},
}

var queueDrainCmd = &cobra.Command{
	Use:   "drain",
	Short: "Process eligible applications now",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/queue/drain", nil)
		if err != nil {
			return err
		}

		var result map[string]string
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("Drain started, watch `applyd queue list` for progress")
		return nil
	},
}

var queueAutoDrainCmd = &cobra.Command{
	Use:   "autodrain [on|off]",
	Short: "Show or set automatic queue draining",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		if len(args) == 0 {
			resp, err := client.get(cmd.Context(), "/queue/autodrain")
			if err != nil {
				return err
			}
			var result map[string]bool
			if err := decodeJSON(resp, &result); err != nil {
				return err
			}
			if result["enabled"] {
				fmt.Println("autodrain: on")
			} else {
				fmt.Println("autodrain: off")
			}
			return nil
		}

		var enabled bool
		switch args[0] {
		case "on":
			enabled = true
		case "off":
			enabled = false
		default:
			return fmt.Errorf("argument must be on or off, got %q", args[0])
		}

		resp, err := client.put(cmd.Context(), "/queue/autodrain", map[string]bool{"enabled": enabled})
		if err != nil {
			return err
		}
		var result map[string]bool
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("Set autodrain = %s", args[0])
		return nil
	},
}

func init() {
	queueAddCmd.Flags().String("url", "", "application form URL (required)")
	queueAddCmd.Flags().String("title", "", "job title")
	queueAddCmd.Flags().String("company", "", "company name")
	queueAddCmd.Flags().Bool("force", false, "re-queue even if already applied")

	queueCmd.AddCommand(queueAddCmd)
	queueCmd.AddCommand(queueListCmd)
	queueCmd.AddCommand(queueRetryCmd)
	queueCmd.AddCommand(queueRemoveCmd)
	queueCmd.AddCommand(queueDrainCmd)
	queueCmd.AddCommand(queueAutoDrainCmd)
}

// --- apply ---

var applyCmd = &cobra.Command{
	Use:   "apply <job-id>",
	Short: "Queue an application and start draining immediately",
	Long: `Queue an application and start draining immediately.

Example:
  applyd apply acme-123 --url https://jobs.acme.com/123/apply --title "Backend Engineer" --company Acme`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		applyURL, _ := cmd.Flags().GetString("url")
		title, _ := cmd.Flags().GetString("title")
		company, _ := cmd.Flags().GetString("company")
		force, _ := cmd.Flags().GetBool("force")

		if applyURL == "" {
			return fmt.Errorf("--url is required")
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		req := map[string]any{
			"job_id":    args[0],
			"apply_url": applyURL,
			"title":     title,
			"company":   company,
			"force":     force,
		}
		resp, err := client.post(cmd.Context(), "/queue", req)
		if err != nil {
			return err
		}
		var rec struct {
			JobID string `json:"job_id"`
		}
		if err := decodeJSON(resp, &rec); err != nil {
			return err
		}
		printStep("Queued %s", rec.JobID)

		drainResp, err := client.post(cmd.Context(), "/queue/drain", nil)
		if err != nil {
			return err
		}
		var result map[string]string
		if err := decodeJSON(drainResp, &result); err != nil {
			return err
		}

		printSuccess("Application started, watch `applyd queue list` for the result")
		return nil
	},
}

func init() {
	applyCmd.Flags().String("url", "", "application form URL (required)")
	applyCmd.Flags().String("title", "", "job title")
	applyCmd.Flags().String("company", "", "company name")
	applyCmd.Flags().Bool("force", false, "apply even if already applied")
}

// --- attempts ---

var attemptsCmd = &cobra.Command{
	Use:   "attempts",
	Short: "List recent application attempts",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), fmt.Sprintf("/attempts?limit=%d", limit))
		if err != nil {
			return err
		}

		var attempts []struct {
			JobID          string `json:"job_id"`
			Outcome        string `json:"outcome"`
			Error          string `json:"error"`
			ScreenshotPath string `json:"screenshot_path"`
			StartedAt      string `json:"started_at"`
		}
		if err := decodeJSON(resp, &attempts); err != nil {
			return err
		}

		if len(attempts) == 0 {
			fmt.Println("No attempts recorded.")
			return nil
		}

		for _, a := range attempts {
			fmt.Printf("%s  %-8s  %s\n", a.StartedAt, colorize(statusColor(a.Outcome), a.Outcome), colorize(colorCyan, a.JobID))
			if a.Error != "" {
				fmt.Printf("    %s\n", colorize(colorRed, a.Error))
			}
			if a.ScreenshotPath != "" {
				fmt.Printf("    screenshot: %s\n", a.ScreenshotPath)
			}
		}
		return nil
	},
}

func init() {
	attemptsCmd.Flags().Int("limit", 20, "maximum number of attempts to list")
}

// --- profile ---

var profileCmd = &cobra.Command{
	Use:   "profile",
	Short: "Manage the applicant profile",
}

var profileShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current profile as JSON",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/profile")
		if err != nil {
			return err
		}

		var p any
		if err := decodeJSON(resp, &p); err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(p)
	},
}

var profileSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a profile field",
	Long: `Set a profile field.

Example:
  applyd profile set identity.email pat@example.com
  applyd profile set application.resume_path ~/resume.pdf`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		body := map[string]any{key: value}
		resp, err := client.patch(cmd.Context(), "/profile", body)
		if err != nil {
			return err
		}

		var p any
		if err := decodeJSON(resp, &p); err != nil {
			return err
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

var profileEditCmd = &cobra.Command{
	Use:   "edit",
	Short: "Open the profile JSON in $EDITOR",
	RunE: func(cmd *cobra.Command, args []string) error {
		editor := os.Getenv("EDITOR")
		if editor == "" {
			editor = "vi"
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/profile")
		if err != nil {
			return err
		}

		var p map[string]any
		if err := decodeJSON(resp, &p); err != nil {
			return err
		}

		data, err := json.MarshalIndent(p, "", "  ")
		if err != nil {
			return err
		}

		tmpFile, err := os.CreateTemp("", "applyd-profile-*.json")
		if err != nil {
			return fmt.Errorf("creating temp file: %w", err)
		}
		tmpPath := tmpFile.Name()
		defer os.Remove(tmpPath)

		if _, err := tmpFile.Write(data); err != nil {
			tmpFile.Close()
			return err
		}
		tmpFile.Close()

		editorCmd := exec.Command(editor, tmpPath)
		editorCmd.Stdin = os.Stdin
		editorCmd.Stdout = os.Stdout
		editorCmd.Stderr = os.Stderr
		if err := editorCmd.Run(); err != nil {
			return fmt.Errorf("editor exited with error: %w", err)
		}

		edited, err := os.ReadFile(tmpPath)
		if err != nil {
			return err
		}

		var fields map[string]any
		if err := json.Unmarshal(edited, &fields); err != nil {
			return fmt.Errorf("invalid JSON: %w", err)
		}

		putResp, err := client.put(cmd.Context(), "/profile", fields)
		if err != nil {
			return err
		}
		defer putResp.Body.Close()

		if putResp.StatusCode >= 400 {
			return fmt.Errorf("server returned %d", putResp.StatusCode)
		}

		printSuccess("Profile updated")
		return nil
	},
}

func init() {
	profileCmd.AddCommand(profileShowCmd)
	profileCmd.AddCommand(profileSetCmd)
	profileCmd.AddCommand(profileEditCmd)
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		keys := config.ShowAll(cfg)
		for _, k := range keys {
			fmt.Printf("  %s = %s\n", colorize(colorBold, k.Key), k.Value)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return err
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}
