package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/dsts/loginbot/pkg/bot"
	"github.com/dsts/loginbot/pkg/browser"
	"github.com/dsts/loginbot/pkg/captcha"
	"github.com/dsts/loginbot/pkg/credstore"
	"github.com/dsts/loginbot/pkg/locators"
	"github.com/dsts/loginbot/pkg/login"
	"github.com/dsts/loginbot/pkg/prompt"
	"github.com/dsts/loginbot/pkg/session"
	"github.com/dsts/loginbot/pkg/types"
	"github.com/dsts/loginbot/pkg/workflow"
)

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Start the login service with a console transport",
		Long: `Starts the login orchestration service. Commands are read line by line
from stdin in the form "<user-id> <command> [args]":

  <user> login <username>      log in with a stored credential
  <user> ops                   run post-login operations
  <user> logout                tear down the user's session
  <user> answer <text>         answer a pending captcha/value prompt
  <user> creds add <u> <p>     store a credential (max 4 per user)
  <user> creds list            list stored usernames
  <user> creds rm <u>          remove one credential

Status updates are printed to stdout prefixed with the user id.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runService(cmd.Context())
		},
	}
}

func runService(parent context.Context) error {
	cfg, err := loadSettings()
	if err != nil {
		return err
	}

	table, err := locators.Load(cfg.LocatorsPath)
	if err != nil {
		return err
	}

	store, err := credstore.New(credstore.Config{URL: cfg.RedisURL})
	if err != nil {
		return err
	}
	defer store.Close()

	engine := browser.NewEngine(cfg.Headless)
	if err := engine.Initialize(); err != nil {
		return err
	}
	defer engine.Stop()

	registry := session.NewRegistry(engine)
	defer registry.CloseAll()

	prompts := prompt.NewChannel()
	sink := &consoleSink{out: os.Stdout}

	ocr := captcha.NewOCRClient(captcha.OCRConfig{
		Endpoint: cfg.OCREndpoint,
		APIKey:   cfg.OCRAPIKey,
		APIHost:  cfg.OCRAPIHost,
		Timeout:  cfg.OCRTimeout,
	})

	orchestrator := login.New(login.Config{TargetURL: cfg.TargetURL}, registry, table, ocr, prompts, sink)

	wf, err := workflow.New(workflow.Config{}, registry, table, prompts, sink)
	if err != nil {
		return err
	}

	service := bot.NewService(registry, orchestrator, wf, prompts, store)

	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		fmt.Println("\nShutting down...")
		cancel()
	}()

	fmt.Println("loginbot ready")
	return consoleLoop(ctx, service)
}

// consoleLoop is a minimal line-based transport standing in for the chat
// layer. Each login/ops command runs on its own goroutine so one user's
// captcha wait never blocks another user's operation.
func consoleLoop(ctx context.Context, service *bot.Service) error {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			dispatch(ctx, service, line)
		}
	}
}

func dispatch(ctx context.Context, service *bot.Service, line string) {
	fields := strings.Fields(line)
	if len(fields) < 2 {
		fmt.Println("usage: <user-id> <command> [args]")
		return
	}
	userID := types.UserID(fields[0])
	command, args := fields[1], fields[2:]

	switch command {
	case "login":
		if len(args) != 1 {
			fmt.Println("usage: <user-id> login <username>")
			return
		}
		go func() {
			result, err := service.Login(ctx, userID, args[0])
			reportOutcome(userID, result, err)
		}()

	case "ops":
		go func() {
			result, err := service.RunOperations(ctx, userID)
			reportOutcome(userID, result, err)
		}()

	case "logout":
		service.Logout(userID)
		fmt.Printf("[%s] logged out\n", userID)

	case "answer":
		if service.Answer(userID, strings.Join(args, " ")) {
			fmt.Printf("[%s] answer received\n", userID)
		} else {
			fmt.Printf("[%s] no prompt waiting\n", userID)
		}

	case "creds":
		handleCreds(ctx, service, userID, args)

	default:
		fmt.Printf("unknown command %q\n", command)
	}
}

func handleCreds(ctx context.Context, service *bot.Service, userID types.UserID, args []string) {
	store := service.Credentials()
	if len(args) == 0 {
		fmt.Println("usage: <user-id> creds add|list|rm ...")
		return
	}

	switch args[0] {
	case "add":
		if len(args) != 3 {
			fmt.Println("usage: <user-id> creds add <username> <password>")
			return
		}
		if err := store.Save(ctx, userID, args[1], args[2]); err != nil {
			fmt.Printf("[%s] %v\n", userID, err)
			return
		}
		fmt.Printf("[%s] credential saved for %s\n", userID, args[1])

	case "list":
		usernames, err := store.Usernames(ctx, userID)
		if err != nil {
			fmt.Printf("[%s] %v\n", userID, err)
			return
		}
		if len(usernames) == 0 {
			fmt.Printf("[%s] no credentials stored\n", userID)
			return
		}
		fmt.Printf("[%s] %s\n", userID, strings.Join(usernames, ", "))

	case "rm":
		if len(args) != 2 {
			fmt.Println("usage: <user-id> creds rm <username>")
			return
		}
		if err := store.Remove(ctx, userID, args[1]); err != nil {
			fmt.Printf("[%s] %v\n", userID, err)
			return
		}
		fmt.Printf("[%s] credential removed for %s\n", userID, args[1])

	default:
		fmt.Printf("unknown creds subcommand %q\n", args[0])
	}
}

func reportOutcome(userID types.UserID, result types.LoginResult, err error) {
	switch {
	case errors.Is(err, bot.ErrUserBusy), errors.Is(err, bot.ErrLoginCooldown), errors.Is(err, bot.ErrNoSession):
		fmt.Printf("[%s] %v\n", userID, err)
	case err != nil:
		fmt.Printf("[%s] error: %v\n", userID, err)
	case result.OK:
		fmt.Printf("[%s] done\n", userID)
	default:
		fmt.Printf("[%s] failed: %s\n", userID, result.Reason)
	}
}

// consoleSink prints status updates to stdout, one line per update.
type consoleSink struct {
	out *os.File
}

func (s *consoleSink) PushStatus(userID types.UserID, text string) {
	fmt.Fprintf(s.out, "[%s] %s\n", userID, text)
}

func (s *consoleSink) PushCaptcha(userID types.UserID, imageURL, caption string) {
	fmt.Fprintf(s.out, "[%s] %s\n[%s] captcha: %s\n", userID, caption, userID, imageURL)
}
