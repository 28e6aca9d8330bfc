package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/term"

	apiclient "github.com/splax/teamforge/pkg/api/client"
	"github.com/splax/teamforge/pkg/config"
)

type cliConfig struct {
	APIBaseURL  string `json:"api_base_url"`
	AccessToken string `json:"access_token"`
}

const (
	defaultAPIBase = "http://localhost:4000"
	requestTimeout = 15 * time.Second
	watchInterval  = 5 * time.Second
)

var buildVersion = "dev"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	cmd := os.Args[1]
	args := os.Args[2:]

	var err error
	switch cmd {
	case "login":
		err = commandLogin(args)
	case "team":
		err = commandTeam(args)
	case "invite":
		err = commandInvite(args)
	case "select":
		err = commandSelect(args)
	case "consensus":
		err = commandConsensus(args)
	case "assign":
		err = commandAssign(args)
	case "projects":
		err = commandProjects(args)
	case "version", "--version", "-v":
		printVersion()
		return
	case "help", "-h", "--help":
		printUsage()
		return
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", cmd)
		printUsage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, errorStyle.Render("error: "+err.Error()))
		os.Exit(1)
	}
}

func commandLogin(args []string) error {
	fs := flag.NewFlagSet("login", flag.ExitOnError)
	token := fs.String("token", "", "Bearer token issued by the campus identity provider (prompted when omitted)")
	apiBase := fs.String("api", "", "API base URL (default http://localhost:4000)")
	fs.Parse(args)

	secret := strings.TrimSpace(*token)
	if secret == "" {
		fmt.Print("Token: ")
		raw, err := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Print("\n")
		if err != nil {
			return fmt.Errorf("read token: %w", err)
		}
		secret = strings.TrimSpace(string(raw))
	}
	if secret == "" {
		return errors.New("a token is required")
	}

	cfg, _ := loadConfig()
	if strings.TrimSpace(*apiBase) != "" {
		cfg.APIBaseURL = *apiBase
	}
	client, err := apiclient.New(cfg.APIBaseURL)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()
	if _, err := client.MyInvitations(ctx, secret); err != nil {
		return fmt.Errorf("token rejected: %w", err)
	}
	cfg.APIBaseURL = client.BaseURL()
	cfg.AccessToken = secret
	if err := saveConfig(cfg); err != nil {
		return err
	}
	fmt.Println(okStyle.Render("login successful"))
	return nil
}

func commandTeam(args []string) error {
	if len(args) == 0 {
		return errors.New("usage: teamforge team [create|show|add|remove]")
	}
	client, token, err := session()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	switch args[0] {
	case "create":
		fs := flag.NewFlagSet("team create", flag.ExitOnError)
		name := fs.String("name", "", "Team name")
		fs.Parse(args[1:])
		if strings.TrimSpace(*name) == "" {
			return errors.New("--name is required")
		}
		team, err := client.CreateTeam(ctx, token, *name)
		if err != nil {
			return err
		}
		fmt.Println(okStyle.Render(fmt.Sprintf("team #%d created: %s", team.Number, team.ID)))
		return nil
	case "show":
		teamID, err := positional(args[1:], 1, "teamforge team show <team-id>")
		if err != nil {
			return err
		}
		team, err := client.GetTeam(ctx, token, teamID[0])
		if err != nil {
			return err
		}
		capacity, err := client.Capacity(ctx, token, teamID[0])
		if err != nil {
			return err
		}
		fmt.Println(renderTeam(team, capacity))
		return nil
	case "add":
		ids, err := positional(args[1:], 2, "teamforge team add <team-id> <user-id>")
		if err != nil {
			return err
		}
		team, err := client.AddMember(ctx, token, ids[0], ids[1])
		if err != nil {
			return err
		}
		fmt.Println(okStyle.Render(fmt.Sprintf("%s now has %d members", team.Name, len(team.Members))))
		return nil
	case "remove":
		ids, err := positional(args[1:], 2, "teamforge team remove <team-id> <user-id>")
		if err != nil {
			return err
		}
		if err := client.RemoveMember(ctx, token, ids[0], ids[1]); err != nil {
			return err
		}
		fmt.Println(okStyle.Render("member removed"))
		return nil
	default:
		return fmt.Errorf("unknown team command: %s", args[0])
	}
}

func commandInvite(args []string) error {
	if len(args) == 0 {
		return errors.New("usage: teamforge invite [send|list|accept|reject|cancel]")
	}
	client, token, err := session()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	switch sub := args[0]; sub {
	case "send":
		ids, err := positional(args[1:], 2, "teamforge invite send <team-id> <email>")
		if err != nil {
			return err
		}
		result, err := client.SendInvitation(ctx, token, ids[0], ids[1])
		if err != nil {
			return err
		}
		fmt.Println(okStyle.Render("invitation sent to " + result.Invitation.Invitee.Email))
		if result.Link != "" {
			fmt.Println(mutedStyle.Render("join link: " + result.Link))
		}
		printWarnings(result.Warnings)
		return nil
	case "list":
		fs := flag.NewFlagSet("invite list", flag.ExitOnError)
		teamID := fs.String("team", "", "List a team's invitations instead of your own")
		fs.Parse(args[1:])
		var invitations []apiclient.Invitation
		if strings.TrimSpace(*teamID) != "" {
			invitations, err = client.TeamInvitations(ctx, token, *teamID)
		} else {
			invitations, err = client.MyInvitations(ctx, token)
		}
		if err != nil {
			return err
		}
		fmt.Println(renderInvitations(invitations))
		return nil
	case "accept", "reject", "cancel":
		ids, err := positional(args[1:], 1, "teamforge invite "+sub+" <invitation-id>")
		if err != nil {
			return err
		}
		result, err := client.RespondInvitation(ctx, token, ids[0], sub)
		if err != nil {
			return err
		}
		fmt.Println(okStyle.Render("invitation " + result.Invitation.Status))
		printWarnings(result.Warnings)
		return nil
	default:
		return fmt.Errorf("unknown invite command: %s", sub)
	}
}

func commandSelect(args []string) error {
	ids, err := positional(args, 1, "teamforge select <project-id>")
	if err != nil {
		return err
	}
	client, token, err := session()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()
	if err := client.SelectProject(ctx, token, ids[0]); err != nil {
		return err
	}
	fmt.Println(okStyle.Render("selected " + ids[0]))
	return nil
}

func commandConsensus(args []string) error {
	fs := flag.NewFlagSet("consensus", flag.ExitOnError)
	watch := fs.Bool("watch", false, "Poll every 5s until the team agrees")
	fs.Parse(args)
	rest := fs.Args()
	if len(rest) > 1 {
		// flags may follow the team id
		fs.Parse(rest[1:])
		rest = append([]string{rest[0]}, fs.Args()...)
	}
	ids, err := positional(rest, 1, "teamforge consensus <team-id> [--watch]")
	if err != nil {
		return err
	}
	client, token, err := session()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ticker := time.NewTicker(watchInterval)
	defer ticker.Stop()
	for {
		reqCtx, cancel := context.WithTimeout(ctx, requestTimeout)
		result, err := client.Consensus(reqCtx, token, ids[0])
		cancel()
		if err != nil {
			return err
		}
		fmt.Println(renderConsensus(result))
		if !*watch || result.HasConsensus {
			return nil
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func commandAssign(args []string) error {
	ids, err := positional(args, 1, "teamforge assign <team-id>")
	if err != nil {
		return err
	}
	client, token, err := session()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	assignment, err := client.Assign(ctx, token, ids[0])
	if err != nil {
		return err
	}
	fmt.Println(okStyle.Render(fmt.Sprintf("team assigned project %s with guide %s", assignment.ProjectID, assignment.GuideID)))
	return nil
}

func commandProjects(args []string) error {
	fs := flag.NewFlagSet("projects", flag.ExitOnError)
	available := fs.Bool("available", false, "Only show unassigned projects")
	fs.Parse(args)
	client, token, err := session()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()
	projects, err := client.ListProjects(ctx, token, *available)
	if err != nil {
		return err
	}
	fmt.Println(renderProjects(projects))
	return nil
}

func positional(args []string, n int, usage string) ([]string, error) {
	if len(args) < n {
		return nil, errors.New("usage: " + usage)
	}
	out := make([]string, n)
	for i := 0; i < n; i++ {
		out[i] = strings.TrimSpace(args[i])
		if out[i] == "" {
			return nil, errors.New("usage: " + usage)
		}
	}
	return out, nil
}

func session() (*apiclient.Client, string, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, "", err
	}
	token := strings.TrimSpace(config.GetString("TEAMFORGE_TOKEN", cfg.AccessToken))
	if token == "" {
		return nil, "", errors.New("please login first using 'teamforge login'")
	}
	client, err := apiclient.New(config.GetString("TEAMFORGE_API_URL", cfg.APIBaseURL))
	if err != nil {
		return nil, "", err
	}
	return client, token, nil
}

func loadConfig() (cliConfig, error) {
	path, err := configPath()
	if err != nil {
		return cliConfig{}, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cliConfig{APIBaseURL: defaultAPIBase}, nil
		}
		return cliConfig{}, err
	}
	var cfg cliConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return cliConfig{}, err
	}
	if cfg.APIBaseURL == "" {
		cfg.APIBaseURL = defaultAPIBase
	}
	return cfg, nil
}

func saveConfig(cfg cliConfig) error {
	path, err := configPath()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

func configPath() (string, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(base, "teamforge", "config.json"), nil
}

func printWarnings(warnings []string) {
	for _, w := range warnings {
		fmt.Println(warnStyle.Render("warning: " + w))
	}
}

func printUsage() {
	fmt.Println(headingStyle.Render("teamforge CLI " + buildVersion))
	fmt.Print(`
Usage:
	teamforge login [--token <jwt>] [--api http://localhost:4000]
	teamforge team create --name <name>
	teamforge team show <team-id>
	teamforge team add <team-id> <user-id>
	teamforge team remove <team-id> <user-id>
	teamforge invite send <team-id> <email>
	teamforge invite list [--team <team-id>]
	teamforge invite accept|reject|cancel <invitation-id>
	teamforge select <project-id>
	teamforge consensus <team-id> [--watch]
	teamforge assign <team-id>
	teamforge projects [--available]
	teamforge version
`)
}

func printVersion() {
	fmt.Println(strings.TrimSpace(buildVersion))
}
