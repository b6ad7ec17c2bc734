package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/pthm/hxlive/lib/encoding"
	"github.com/spf13/cobra"
)

func newChecksumCommand() *cobra.Command {
	var secret string
	cmd := &cobra.Command{
		Use:   "checksum DATA",
		Short: "Compute the checksum of component data",
		Long: `Compute the checksum the server expects for a component's data.

DATA is the JSON object sent as "data" in a component message. The secret
defaults to $HXLIVE_SECRET.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChecksum(cmd, secret, args[0])
		},
	}
	cmd.Flags().StringVar(&secret, "secret", "", "signing secret")
	return cmd
}

func runChecksum(cmd *cobra.Command, secret, raw string) error {
	if secret == "" {
		secret = os.Getenv(secretEnv)
	}
	if secret == "" {
		return errors.New("no secret: pass --secret or set " + secretEnv)
	}
	data, err := encoding.LoadsMap(raw)
	if err != nil {
		return fmt.Errorf("parse data: %w", err)
	}
	signer, err := encoding.NewSigner([]byte(secret))
	if err != nil {
		return err
	}
	sum, err := signer.Checksum(data)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), sum)
	return nil
}
