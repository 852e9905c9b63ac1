package main

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	mw "github.com/kiranshivaraju/callcoach/internal/api/middleware"
	"github.com/kiranshivaraju/callcoach/internal/store"
	"github.com/kiranshivaraju/callcoach/pkg/models"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
	"golang.org/x/crypto/bcrypt"
)

const (
	keyPrefix     = "cc_"
	keyRandomSize = 24
)

func newKeysCmd(e *env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keys",
		Short: "Manage API keys",
	}
	cmd.AddCommand(newKeysCreateCmd(e), newKeysListCmd(e), newKeysRevokeCmd(e))
	return cmd
}

func newKeysCreateCmd(e *env) *cobra.Command {
	var (
		orgID  string
		name   string
		scopes []string
	)
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an API key; the raw key is printed once",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			org, err := uuid.Parse(orgID)
			if err != nil {
				return fmt.Errorf("--org must be a UUID: %w", err)
			}
			if strings.TrimSpace(name) == "" {
				return fmt.Errorf("--name is required")
			}

			raw, err := generateKey()
			if err != nil {
				return err
			}
			hash, err := bcrypt.GenerateFromPassword([]byte(raw), bcrypt.DefaultCost)
			if err != nil {
				return fmt.Errorf("hash api key: %w", err)
			}

			now := time.Now().UTC()
			key := &models.APIKey{
				ID:        uuid.New(),
				OrgID:     org,
				Name:      name,
				KeyHash:   string(hash),
				KeyPrefix: raw[:mw.KeyPrefixLen],
				Scopes:    scopes,
				CreatedAt: now,
				UpdatedAt: now,
			}
			return e.withStore(cmd.Context(), func(st store.Store) error {
				if err := st.CreateAPIKey(cmd.Context(), key); err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Created key %s (%s) for org %s with scopes %s\n",
					key.ID, key.Name, key.OrgID, strings.Join(key.Scopes, ","))
				fmt.Fprintf(out, "\n  %s\n\nStore it now; it cannot be shown again.\n", raw)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&orgID, "org", "", "organization ID the key belongs to")
	cmd.Flags().StringVar(&name, "name", "", "human-readable key name")
	cmd.Flags().StringSliceVar(&scopes, "scope", []string{"analysis"}, "scopes to grant (repeatable); use admin for maintenance endpoints")
	_ = cmd.MarkFlagRequired("org")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func newKeysListCmd(e *env) *cobra.Command {
	var orgID string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List active API keys for an organization",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			org, err := uuid.Parse(orgID)
			if err != nil {
				return fmt.Errorf("--org must be a UUID: %w", err)
			}
			return e.withStore(cmd.Context(), func(st store.Store) error {
				keys, err := st.ListAPIKeys(cmd.Context(), org)
				if err != nil {
					return err
				}
				if len(keys) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No keys found.")
					return nil
				}
				table := tablewriter.NewWriter(cmd.OutOrStdout())
				table.Header("ID", "Name", "Prefix", "Scopes", "Last Used", "Created")
				for _, k := range keys {
					lastUsed := "-"
					if k.LastUsedAt != nil {
						lastUsed = k.LastUsedAt.UTC().Format(time.RFC3339)
					}
					if err := table.Append(k.ID.String(), k.Name, k.KeyPrefix,
						strings.Join(k.Scopes, ","), lastUsed, k.CreatedAt.UTC().Format(time.RFC3339)); err != nil {
						return err
					}
				}
				return table.Render()
			})
		},
	}
	cmd.Flags().StringVar(&orgID, "org", "", "organization ID")
	_ = cmd.MarkFlagRequired("org")
	return cmd
}

func newKeysRevokeCmd(e *env) *cobra.Command {
	var orgID string
	cmd := &cobra.Command{
		Use:   "revoke <key-id>",
		Short: "Revoke an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			keyID, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("key id must be a UUID: %w", err)
			}
			org, err := uuid.Parse(orgID)
			if err != nil {
				return fmt.Errorf("--org must be a UUID: %w", err)
			}
			return e.withStore(cmd.Context(), func(st store.Store) error {
				if err := st.RevokeAPIKey(cmd.Context(), keyID, org); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Revoked key %s\n", keyID)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&orgID, "org", "", "organization ID the key belongs to")
	_ = cmd.MarkFlagRequired("org")
	return cmd
}

func generateKey() (string, error) {
	b := make([]byte, keyRandomSize)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate api key: %w", err)
	}
	return keyPrefix + hex.EncodeToString(b), nil
}
