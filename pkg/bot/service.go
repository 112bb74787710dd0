// Package bot is the operational facade consumed by a chat transport. It
// applies the per-user gating rules (busy flag, login cooldown), resolves
// stored credentials, runs orchestrator operations on behalf of users, and
// routes human answers to pending prompts.
package bot

import (
	"context"
	"errors"
	"fmt"

	"github.com/dsts/loginbot/pkg/credstore"
	"github.com/dsts/loginbot/pkg/login"
	"github.com/dsts/loginbot/pkg/logging"
	"github.com/dsts/loginbot/pkg/prompt"
	"github.com/dsts/loginbot/pkg/session"
	"github.com/dsts/loginbot/pkg/types"
	"github.com/dsts/loginbot/pkg/workflow"
)

var (
	// ErrUserBusy indicates another operation is in flight for the user.
	ErrUserBusy = errors.New("an operation is already in progress")
	// ErrLoginCooldown indicates the user retried within the cooldown window.
	ErrLoginCooldown = errors.New("please wait before attempting to login again")
	// ErrNoSession indicates operations were requested before logging in.
	ErrNoSession = errors.New("no active session, login first")
)

// Service coordinates the login and post-login operations for all users.
type Service struct {
	registry     *session.Registry
	orchestrator *login.Orchestrator
	workflow     *workflow.Workflow
	prompts      *prompt.Channel
	store        *credstore.Store
	log          *logging.Logger
}

// NewService wires the facade.
func NewService(registry *session.Registry, orchestrator *login.Orchestrator, wf *workflow.Workflow, prompts *prompt.Channel, store *credstore.Store) *Service {
	log, _ := logging.NewLogger("bot")
	return &Service{
		registry:     registry,
		orchestrator: orchestrator,
		workflow:     wf,
		prompts:      prompts,
		store:        store,
		log:          log,
	}
}

// Login runs a full login attempt with the user's stored credential. The
// busy flag is held for the whole operation and released on every exit
// path; a failed login tears the session down so the next attempt starts
// clean.
func (s *Service) Login(ctx context.Context, userID types.UserID, username string) (types.LoginResult, error) {
	if !s.registry.TryAcquire(userID) {
		return types.LoginResult{}, ErrUserBusy
	}
	defer s.registry.Release(userID)

	if !s.registry.CanAttemptLogin(userID) {
		return types.LoginResult{}, ErrLoginCooldown
	}

	cred, err := s.store.Get(ctx, userID, username)
	if err != nil {
		s.log.Warnf("credential lookup failed for user %s (%s): %v", userID, username, err)
		return types.LoginResult{}, fmt.Errorf("credential lookup failed: %w", err)
	}

	result := s.orchestrator.Login(ctx, userID, cred)
	if !result.OK {
		s.registry.CloseSession(userID)
	}
	return result, nil
}

// RunOperations executes the post-login workflow for a logged-in user.
func (s *Service) RunOperations(ctx context.Context, userID types.UserID) (types.LoginResult, error) {
	if !s.registry.HasSession(userID) {
		return types.LoginResult{}, ErrNoSession
	}
	if !s.registry.TryAcquire(userID) {
		return types.LoginResult{}, ErrUserBusy
	}
	defer s.registry.Release(userID)

	return s.workflow.Run(ctx, userID), nil
}

// Logout forces session teardown and clears all per-user state. Safe to
// call while an operation is in flight; teardown tolerates invalidated
// handles.
func (s *Service) Logout(userID types.UserID) {
	s.registry.CloseSession(userID)
}

// Answer routes a human reply to the user's pending prompt. Returns false
// if no prompt was waiting.
func (s *Service) Answer(userID types.UserID, text string) bool {
	return s.prompts.Deliver(userID, text)
}

// AwaitingInput reports whether the user currently has an open prompt.
func (s *Service) AwaitingInput(userID types.UserID) bool {
	return s.prompts.Waiting(userID)
}

// Credentials exposes the credential store for the management commands.
func (s *Service) Credentials() *credstore.Store {
	return s.store
}
