package main

import (
	"context"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"keystack/internal/config"
	"keystack/internal/domain"
	"keystack/internal/infra/keys/awskms"

	"github.com/spf13/cobra"
)

// keyService is the part of the KMS engine the key commands use.
type keyService interface {
	Describe(ctx context.Context, keyID string) (awskms.KeyInfo, error)
	PublicKey(ctx context.Context, keyID string) ([]byte, error)
	ScheduleDeletion(ctx context.Context, keyID string, pendingDays int) (time.Time, error)
	Sign(ctx context.Context, keyID string, alg string, msg []byte) ([]byte, error)
	Verify(ctx context.Context, keyID string, alg string, msg, sig []byte) (bool, error)
}

var newKeyService = func(ctx context.Context, cfg config.Config) (keyService, error) {
	engine, err := awskms.NewFromConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return engine, nil
}

var defaultSigningAlgorithm = domain.SigningAlgorithms(domain.KeySpecECCNistP384)[0]

func newKeyCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "key",
		Short: "Operate on a provisioned KMS key",
	}
	cmd.AddCommand(
		newKeyDescribeCmd(opts),
		newKeyPublicKeyCmd(opts),
		newKeyScheduleDeletionCmd(opts),
		newKeySignCmd(opts),
		newKeyVerifyCmd(opts),
	)
	return cmd
}

func keyServiceFor(cmd *cobra.Command, opts *options) (keyService, error) {
	return newKeyService(commandContext(cmd), opts.config())
}

func newKeyDescribeCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "describe <key-id|arn>",
		Short: "Show key metadata",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := keyServiceFor(cmd, opts)
			if err != nil {
				return err
			}
			info, err := svc.Describe(commandContext(cmd), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), info)
		},
	}
}

func newKeyPublicKeyCmd(opts *options) *cobra.Command {
	var outPath string
	cmd := &cobra.Command{
		Use:   "public-key <key-id|arn>",
		Short: "Write the PEM encoded public key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := keyServiceFor(cmd, opts)
			if err != nil {
				return err
			}
			der, err := svc.PublicKey(commandContext(cmd), args[0])
			if err != nil {
				return err
			}
			block := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})
			return writeOutput(cmd.OutOrStdout(), outPath, []byte(strings.TrimRight(string(block), "\n")))
		},
	}
	cmd.Flags().StringVar(&outPath, "out", "", "PEM file (default stdout)")
	return cmd
}

func newKeyScheduleDeletionCmd(opts *options) *cobra.Command {
	var days int
	cmd := &cobra.Command{
		Use:   "schedule-deletion <key-id|arn>",
		Short: "Schedule the key for deletion",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := keyServiceFor(cmd, opts)
			if err != nil {
				return err
			}
			at, err := svc.ScheduleDeletion(commandContext(cmd), args[0], days)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), map[string]any{
				"key_id":              args[0],
				"pending_window_days": awskms.ClampPendingWindow(days),
				"deletion_date":       at,
			})
		},
	}
	cmd.Flags().IntVar(&days, "days", awskms.MaxPendingWindowDays, "pending window in days (7 to 30)")
	return cmd
}

func newKeySignCmd(opts *options) *cobra.Command {
	var inPath, alg string
	cmd := &cobra.Command{
		Use:   "sign <key-id|arn>",
		Short: "Sign a file and print the base64 signature",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			msg, err := readInput(inPath)
			if err != nil {
				return err
			}
			svc, err := keyServiceFor(cmd, opts)
			if err != nil {
				return err
			}
			sig, err := svc.Sign(commandContext(cmd), args[0], alg, msg)
			if err != nil {
				return err
			}
			return writeOutput(cmd.OutOrStdout(), "", []byte(base64.StdEncoding.EncodeToString(sig)))
		},
	}
	cmd.Flags().StringVar(&inPath, "in", "", "message file")
	cmd.Flags().StringVar(&alg, "alg", defaultSigningAlgorithm, "signing algorithm")
	return cmd
}

func newKeyVerifyCmd(opts *options) *cobra.Command {
	var inPath, alg, sigB64 string
	cmd := &cobra.Command{
		Use:   "verify <key-id|arn>",
		Short: "Verify a base64 signature over a file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			msg, err := readInput(inPath)
			if err != nil {
				return err
			}
			sig, err := base64.StdEncoding.DecodeString(strings.TrimSpace(sigB64))
			if err != nil || len(sig) == 0 {
				return errors.New("--signature must be non-empty base64")
			}
			svc, err := keyServiceFor(cmd, opts)
			if err != nil {
				return err
			}
			ok, err := svc.Verify(commandContext(cmd), args[0], alg, msg, sig)
			if err != nil {
				return err
			}
			if err := printJSON(cmd.OutOrStdout(), map[string]bool{"valid": ok}); err != nil {
				return err
			}
			if !ok {
				return errors.New("signature is not valid")
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&inPath, "in", "", "message file")
	cmd.Flags().StringVar(&alg, "alg", defaultSigningAlgorithm, "signing algorithm")
	cmd.Flags().StringVar(&sigB64, "signature", "", "base64 signature")
	return cmd
}

func readInput(path string) ([]byte, error) {
	if path == "" {
		return nil, errors.New("--in is required")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return b, nil
}
