// Package main implements the sitekeeper CLI tool.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/parkmill/sitekeeper/cdn"
	"github.com/parkmill/sitekeeper/gitlab"
	"github.com/parkmill/sitekeeper/internal/config"
	"github.com/parkmill/sitekeeper/server"
	"github.com/parkmill/sitekeeper/session"
	"github.com/parkmill/sitekeeper/storage"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "sitekeeper",
	Short: "Sitekeeper - editing sessions for hosted static sites",
}

var sitesCmd = &cobra.Command{
	Use:   "sites",
	Short: "List all sites in the catalog",
	RunE:  runSites,
}

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List editing sessions",
	RunE:  runSessions,
}

var createSessionCmd = &cobra.Command{
	Use:   "create-session <site>",
	Short: "Start an editing session on a site",
	Args:  cobra.ExactArgs(1),
	RunE:  runCreateSession,
}

var destroySessionCmd = &cobra.Command{
	Use:   "destroy-session <session>",
	Short: "Discard a session and its working copy",
	Args:  cobra.ExactArgs(1),
	RunE:  runDestroySession,
}

var parkCmd = &cobra.Command{
	Use:   "park <session>",
	Short: "Stop a session's editor but keep its working copy",
	Args:  cobra.ExactArgs(1),
	RunE:  runPark,
}

var unparkCmd = &cobra.Command{
	Use:   "unpark <session>",
	Short: "Restart the editor for a parked session",
	Args:  cobra.ExactArgs(1),
	RunE:  runUnpark,
}

var releaseCmd = &cobra.Command{
	Use:   "release <session>",
	Short: "Submit a session's changes for release and close it",
	Args:  cobra.ExactArgs(1),
	RunE:  runRelease,
}

var createSiteCmd = &cobra.Command{
	Use:   "create-site <site-id> <name>",
	Short: "Create a new site and provision its production hosting",
	Args:  cobra.ExactArgs(2),
	RunE:  runCreateSite,
}

var releasingCmd = &cobra.Command{
	Use:   "releasing",
	Short: "List sessions with an open release request",
	RunE:  runReleasing,
}

var (
	configPath     string
	sessionsParked bool
	custodianName  string
	custodianEmail string
	themes         []string
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Project configuration file")
	rootCmd.AddCommand(sitesCmd, sessionsCmd, createSessionCmd, destroySessionCmd,
		parkCmd, unparkCmd, releaseCmd, createSiteCmd, releasingCmd)

	sessionsCmd.Flags().BoolVar(&sessionsParked, "parked", false, "List only parked sessions")
	for _, cmd := range []*cobra.Command{createSessionCmd, createSiteCmd} {
		cmd.Flags().StringVar(&custodianName, "custodian", "", "Custodian name")
		cmd.Flags().StringVar(&custodianEmail, "email", "", "Custodian email")
		cmd.Flags().StringSliceVar(&themes, "themes", nil, "Themes for the working tree")
	}
}

// openManager builds the engine from configuration: file or git storage, a
// lektor server, and (when a cloud region is configured) a CDN provisioner.
func openManager(ctx context.Context) (*session.Manager, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if strings.EqualFold(cfg.Log.Level, "debug") {
		log.SetLevel(log.DebugLevel)
	}

	var st storage.Storage
	if cfg.GitLab.BaseURL != "" {
		client := gitlab.New(gitlab.Options{
			BaseURL:   cfg.GitLab.BaseURL,
			Token:     cfg.GitLab.Token,
			Namespace: cfg.GitLab.Namespace,
		})
		st = storage.NewGit(storage.GitOptions{
			Root:   cfg.Storage.Root,
			Client: client,
		})
	} else {
		st = storage.NewFile(cfg.Storage.Root)
	}

	srv := server.NewLektor(server.Options{
		StartPort: cfg.Server.StartPort,
		EndPort:   cfg.Server.EndPort,
		Command:   cfg.Server.Command,
	})

	opts := session.Options{SessionsRoot: cfg.Storage.SessionsRoot}
	if cfg.Cloud.Region != "" {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
			awsconfig.WithRegion(cfg.Cloud.Region))
		if err != nil {
			return nil, fmt.Errorf("load cloud config: %w", err)
		}
		opts.Provisioner = cdn.NewFromConfig(awsCfg, log.Default())
	}

	return session.Open(st, srv, opts)
}

func runSites(cmd *cobra.Command, args []string) error {
	manager, err := openManager(cmd.Context())
	if err != nil {
		return err
	}

	sites := manager.Sites()
	if len(sites) == 0 {
		fmt.Println("No sites in the catalog.")
		return nil
	}

	rows := make([][]string, 0, len(sites))
	for _, s := range sites {
		view := s.View()
		rows = append(rows, []string{
			s.ID,
			stringField(view, "site_name"),
			stringField(view, "custodian"),
			stringField(view, "production_url"),
		})
	}
	fmt.Print(formatTable([]string{"SITE", "NAME", "CUSTODIAN", "PRODUCTION"}, rows))
	return nil
}

func runSessions(cmd *cobra.Command, args []string) error {
	manager, err := openManager(cmd.Context())
	if err != nil {
		return err
	}

	items := manager.Active()
	if sessionsParked {
		items = manager.Parked()
	}
	if len(items) == 0 {
		fmt.Println("No sessions.")
		return nil
	}

	rows := make([][]string, 0, len(items))
	for _, item := range items {
		view := item.Session.View()
		state := "active"
		if item.Session.Parked() {
			state = "parked since " + stringField(view, "parked_time")
		}
		rows = append(rows, []string{
			item.Session.ID,
			item.Site.ID,
			stringField(view, "custodian"),
			state,
			item.Session.ViewURL,
		})
	}
	fmt.Print(formatTable([]string{"SESSION", "SITE", "CUSTODIAN", "STATE", "VIEW"}, rows))
	return nil
}

func runCreateSession(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	manager, err := openManager(ctx)
	if err != nil {
		return err
	}

	sessionID, err := manager.CreateSession(ctx, args[0], &session.Custodian{
		Name:  custodianName,
		Email: custodianEmail,
	}, themes)
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	fmt.Println(sessionID)

	return holdSession(ctx, manager, sessionID)
}

func runDestroySession(cmd *cobra.Command, args []string) error {
	manager, err := openManager(cmd.Context())
	if err != nil {
		return err
	}
	return manager.DestroySession(cmd.Context(), args[0])
}

func runPark(cmd *cobra.Command, args []string) error {
	manager, err := openManager(cmd.Context())
	if err != nil {
		return err
	}
	return manager.ParkSession(cmd.Context(), args[0])
}

func runUnpark(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	manager, err := openManager(ctx)
	if err != nil {
		return err
	}
	if err := manager.UnparkSession(ctx, args[0]); err != nil {
		return fmt.Errorf("unpark session: %w", err)
	}
	return holdSession(ctx, manager, args[0])
}

func runRelease(cmd *cobra.Command, args []string) error {
	manager, err := openManager(cmd.Context())
	if err != nil {
		return err
	}
	return manager.RequestRelease(cmd.Context(), args[0])
}

func runCreateSite(cmd *cobra.Command, args []string) error {
	manager, err := openManager(cmd.Context())
	if err != nil {
		return err
	}
	return manager.CreateSite(cmd.Context(), args[0], args[1], &session.Custodian{
		Name:  custodianName,
		Email: custodianEmail,
	}, themes)
}

func runReleasing(cmd *cobra.Command, args []string) error {
	manager, err := openManager(cmd.Context())
	if err != nil {
		return err
	}

	mrs, err := manager.Releasing(cmd.Context())
	if err != nil {
		return err
	}
	if len(mrs) == 0 {
		fmt.Println("No open release requests.")
		return nil
	}

	rows := make([][]string, 0, len(mrs))
	for _, mr := range mrs {
		sessionID := strings.TrimPrefix(mr.SourceBranch, storage.BranchPrefix)
		rows = append(rows, []string{sessionID, mr.SourceBranch, mr.TargetBranch, mr.WebURL})
	}
	fmt.Print(formatTable([]string{"SESSION", "SOURCE", "TARGET", "URL"}, rows))
	return nil
}

// holdSession prints the session's URLs once the editor is up, then keeps
// the process alive: the editor is a child process, so exiting would stop
// the session. Interrupting parks the session.
func holdSession(ctx context.Context, manager *session.Manager, sessionID string) error {
	sessions := manager.Sessions()
	item, ok := sessions[sessionID]
	if !ok {
		return session.ErrSessionNotFound
	}

	resolved, err := item.Session.EditURL.Wait(ctx)
	if err != nil {
		return fmt.Errorf("editor failed to start: %w", err)
	}
	fmt.Printf("edit:    %s\npreview: %s\nadmin:   %s\n",
		resolved.Edit, resolved.Preview, resolved.Admin)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	select {
	case <-stop:
	case <-ctx.Done():
	}
	return manager.ParkSession(context.Background(), sessionID)
}

func stringField(view map[string]any, key string) string {
	value, ok := view[key]
	if !ok {
		return "-"
	}
	s, ok := value.(string)
	if !ok || s == "" {
		return "-"
	}
	return s
}
