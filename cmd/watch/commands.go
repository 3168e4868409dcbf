package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/carecoord/carecoord/internal/identity"
	"github.com/carecoord/carecoord/internal/record"
	"github.com/carecoord/carecoord/internal/repository"
	"github.com/carecoord/carecoord/internal/store"
	"github.com/carecoord/carecoord/internal/subscription"
	"github.com/carecoord/carecoord/pkg/middleware"
)

type app struct {
	store       store.Store
	session     *identity.Session
	verifier    middleware.Verifier
	loadTimeout time.Duration
	// refetch delivers refetch requests to doc; SIGHUP when nil.
	refetch <-chan os.Signal
}

func (a *app) factory() *repository.Factory {
	return repository.NewFactory(a.store, a.session)
}

func (a *app) signIn(ctx context.Context, raw string) error {
	tok, err := a.verifier.Verify(ctx, raw)
	if err != nil {
		return fmt.Errorf("verify token: %w", err)
	}
	sub := tok.Subject()
	if sub == "" {
		return errors.New("token has no subject")
	}
	a.session.SignIn(sub)
	return nil
}

type listLine struct {
	Data    []record.Record `json:"data"`
	Loading bool            `json:"loading"`
	Error   string          `json:"error,omitempty"`
}

type docLine struct {
	ID      string        `json:"id"`
	Data    record.Record `json:"data"`
	Loading bool          `json:"loading"`
	Error   string        `json:"error,omitempty"`
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func newRootCmd(a *app) *cobra.Command {
	var token string
	root := &cobra.Command{
		Use:          "watch",
		Short:        "Follow live record lists and detail views",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if token == "" {
				return nil
			}
			return a.signIn(cmd.Context(), token)
		},
	}
	root.PersistentFlags().StringVar(&token, "token", "", "access token that signs the session in")
	root.AddCommand(newListCmd(a, &token), newDocCmd(a))
	return root
}

func newListCmd(a *app, token *string) *cobra.Command {
	var (
		kind, user, field, value string
		once                     bool
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "Print every view of a live list",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			repo, err := a.factory().Lookup(kind)
			if err != nil {
				return err
			}
			if field != "" && !repo.Config().AllowsFilter(field) {
				return fmt.Errorf("%s cannot be filtered on %q", kind, field)
			}
			if field == "" && user == "" && *token == "" {
				return errors.New("one of --user, --field or --token is required")
			}

			list := subscription.NewList(ctx, repo,
				subscription.WithLoadTimeout(a.loadTimeout),
				subscription.WithLabel(repo.Config().Collection))
			defer list.Close()

			switch {
			case field != "":
				list.Filtered(field, value)
			case user != "":
				list.Owned(user)
			default:
				uid, err := a.session.Wait(ctx)
				if err != nil {
					return nil
				}
				list.Owned(uid)
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			for {
				select {
				case <-ctx.Done():
					return nil
				case <-list.Updated():
				}
				v := list.View()
				if err := enc.Encode(listLine{Data: v.Data, Loading: v.Loading, Error: errString(v.Err)}); err != nil {
					return err
				}
				if once && !v.Loading {
					return v.Err
				}
			}
		},
	}
	cmd.Flags().StringVar(&kind, "kind", "", "entity kind (patients, doctors, appointments, prescriptions, itineraries)")
	cmd.Flags().StringVar(&user, "user", "", "follow the records visible to this user")
	cmd.Flags().StringVar(&field, "field", "", "follow the records whose field equals --value")
	cmd.Flags().StringVar(&value, "value", "", "value matched against --field")
	cmd.Flags().BoolVar(&once, "once", false, "exit after the first loaded view")
	_ = cmd.MarkFlagRequired("kind")
	cmd.MarkFlagsMutuallyExclusive("user", "field")
	cmd.MarkFlagsRequiredTogether("field", "value")
	return cmd
}

func newDocCmd(a *app) *cobra.Command {
	var (
		kind, id string
		once     bool
	)
	cmd := &cobra.Command{
		Use:   "doc",
		Short: "Print the detail view of one record; SIGHUP refetches it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			repo, err := a.factory().Lookup(kind)
			if err != nil {
				return err
			}

			refetch := a.refetch
			if refetch == nil {
				hup := make(chan os.Signal, 1)
				signal.Notify(hup, syscall.SIGHUP)
				defer signal.Stop(hup)
				refetch = hup
			}

			doc := subscription.NewDoc(ctx, repo, subscription.WithLoadTimeout(a.loadTimeout))
			defer doc.Close()
			doc.Load(id)

			enc := json.NewEncoder(cmd.OutOrStdout())
			for {
				select {
				case <-ctx.Done():
					return nil
				case <-refetch:
					doc.Refetch()
					continue
				case <-doc.Updated():
				}
				v := doc.View()
				if err := enc.Encode(docLine{ID: v.ID, Data: v.Data, Loading: v.Loading, Error: errString(v.Err)}); err != nil {
					return err
				}
				if once && !v.Loading {
					return v.Err
				}
			}
		},
	}
	cmd.Flags().StringVar(&kind, "kind", "", "entity kind")
	cmd.Flags().StringVar(&id, "id", "", "record id")
	cmd.Flags().BoolVar(&once, "once", false, "exit after the first loaded view")
	_ = cmd.MarkFlagRequired("kind")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}
