package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/facturo/facturo/internal/chainledger"
	"github.com/facturo/facturo/internal/verifycode"
)

// version is overridden via -ldflags "-X main.version=...".
var version = "dev"

var ledgerPath string

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "fiscalctl",
	Short: "Fiscal chain ledger tooling",
	Long: `fiscalctl inspects and audits the append-only fiscal chain ledgers
produced by the facturo server: verify chain integrity, dump entries,
and follow chain links forward.`,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&ledgerPath, "ledger", "data/ledger/registration.xml", "path to the ledger document")

	qrCmd.Flags().StringVarP(&qrOut, "out", "o", "", "write the PNG here instead of <index>.png")
	qrCmd.Flags().IntVar(&qrSize, "size", 256, "QR edge length in pixels")

	rootCmd.AddCommand(verifyCmd)
	rootCmd.AddCommand(headCmd)
	rootCmd.AddCommand(showCmd)
	rootCmd.AddCommand(successorCmd)
	rootCmd.AddCommand(fingerprintCmd)
	rootCmd.AddCommand(qrCmd)
	rootCmd.AddCommand(versionCmd)
}

func openLedger() *chainledger.FileLedger {
	return chainledger.NewFileLedger(ledgerPath, "", "", "", nil)
}

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Walk the whole chain and check every link",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		l := openLedger()

		n, err := l.Len(ctx)
		if err != nil {
			return err
		}
		if err := l.Verify(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "INVALID: %v\n", err)
			os.Exit(1)
		}
		head, err := l.LastFingerprint(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("OK: %d entries, head %s\n", n, head)
		return nil
	},
}

var headCmd = &cobra.Command{
	Use:   "head",
	Short: "Print the chain head fingerprint",
	RunE: func(cmd *cobra.Command, args []string) error {
		head, err := openLedger().LastFingerprint(context.Background())
		if err != nil {
			return err
		}
		fmt.Println(head)
		return nil
	},
}

var showCmd = &cobra.Command{
	Use:   "show <index>",
	Short: "Dump one entry as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		idx, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("index must be an integer: %q", args[0])
		}

		entry, err := openLedger().Entry(context.Background(), idx)
		if err != nil {
			return err
		}
		return printJSON(entry)
	},
}

var successorCmd = &cobra.Command{
	Use:   "successor <fingerprint>",
	Short: "Print the entry that chains from the given fingerprint",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		entry, err := openLedger().FindSuccessorOf(context.Background(), args[0])
		if err != nil {
			return err
		}
		return printJSON(entry)
	},
}

var fingerprintCmd = &cobra.Command{
	Use:   "fingerprint <index>",
	Short: "Check one entry's chain link",
	Long: `fingerprint checks that the entry at the given index chains from the
latest earlier entry for a different invoice, the same rule appends follow.
Exit status 1 on a broken link.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		idx, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("index must be an integer: %q", args[0])
		}

		ctx := context.Background()
		l := openLedger()

		entry, err := l.Entry(ctx, idx)
		if err != nil {
			return err
		}
		entries, err := l.Entries(ctx)
		if err != nil {
			return err
		}

		want := chainledger.Genesis
		for i := idx - 1; i >= 0; i-- {
			if entries[i].InvoiceID != entry.InvoiceID {
				want = entries[i].Fingerprint
				break
			}
		}

		if entry.PreviousFingerprint != want {
			fmt.Fprintf(os.Stderr, "BROKEN: entry %d chains from %s, expected %s\n",
				idx, entry.PreviousFingerprint, want)
			os.Exit(1)
		}
		fmt.Printf("OK: entry %d (%s, mode %s)\n  previous %s\n  fingerprint %s\n",
			idx, entry.InvoiceID, entry.Mode, entry.PreviousFingerprint, entry.Fingerprint)
		return nil
	},
}

var (
	qrOut  string
	qrSize int
)

var qrCmd = &cobra.Command{
	Use:   "qr <index>",
	Short: "Re-render an entry's verification code as a PNG",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		idx, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("index must be an integer: %q", args[0])
		}

		entry, err := openLedger().Entry(context.Background(), idx)
		if err != nil {
			return err
		}
		if entry.VerificationCode == "" {
			return fmt.Errorf("entry %d carries no verification code", idx)
		}

		img, err := verifycode.Render(entry.VerificationCode, verifycode.Config{ImageSize: qrSize})
		if err != nil {
			return fmt.Errorf("render: %w", err)
		}

		out := qrOut
		if out == "" {
			out = fmt.Sprintf("%d.png", idx)
		}
		if err := os.WriteFile(out, img, 0o644); err != nil {
			return err
		}
		fmt.Printf("wrote %s (%d bytes)\n", out, len(img))
		return nil
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the fiscalctl version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(version)
	},
}

func printJSON(v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}
