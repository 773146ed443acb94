package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"guardian/internal/ledger"
	"guardian/pkg/domain"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"
)

func evidenceCommand() *cobra.Command {
	cmd := &cobra.Command{Use: "evidence", Short: "Record and inspect evidence"}

	upload := &cobra.Command{
		Use:   "upload",
		Short: "Hash a file and record it on the ledger",
		RunE: run(true, func(ctx context.Context, a *app, cmd *cobra.Command, _ []string) error {
			path, _ := cmd.Flags().GetString("file")
			content, err := os.ReadFile(path)
			if err != nil {
				return err
			}
			req := ledger.UploadRequest{Content: content}
			req.CID, _ = cmd.Flags().GetString("cid")
			req.Description, _ = cmd.Flags().GetString("description")
			if caseFlag, _ := cmd.Flags().GetString("case"); caseFlag != "" {
				if req.CaseID, err = parseID(caseFlag); err != nil {
					return err
				}
			}
			res, err := a.ledger.UploadEvidence(ctx, req)
			return report(cmd, "Evidence", res, err)
		}),
	}
	upload.Flags().String("file", "", "evidence file")
	upload.Flags().String("description", "", "what the evidence is")
	upload.Flags().String("case", "", "case id to attach to")
	upload.Flags().String("cid", "", "content identifier if already pinned elsewhere")
	_ = upload.MarkFlagRequired("file")
	_ = upload.MarkFlagRequired("description")

	get := &cobra.Command{
		Use:   "get <id>",
		Short: "Show an evidence record",
		Args:  cobra.ExactArgs(1),
		RunE: run(true, func(ctx context.Context, a *app, cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			ev, err := a.ledger.GetEvidence(ctx, id)
			if err != nil {
				return err
			}
			if jsonOutput(cmd) {
				return printJSON(cmd.OutOrStdout(), ev)
			}
			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "Evidence %s\n", ev.ID)
			fmt.Fprintf(w, "  cid:         %s\n", ev.CID)
			fmt.Fprintf(w, "  hash:        %s\n", ev.Hash)
			fmt.Fprintf(w, "  description: %s\n", ev.Description)
			fmt.Fprintf(w, "  case:        %s\n", ev.CaseID)
			fmt.Fprintf(w, "  uploader:    %s\n", ev.Uploader.Hex())
			fmt.Fprintf(w, "  recorded:    %s\n", ev.Timestamp.Format("2006-01-02 15:04:05 MST"))
			return nil
		}),
	}

	verify := &cobra.Command{
		Use:   "verify <id>",
		Short: "Check a file against the recorded hash and CID",
		Args:  cobra.ExactArgs(1),
		RunE: run(true, func(ctx context.Context, a *app, cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			path, _ := cmd.Flags().GetString("file")
			content, err := os.ReadFile(path)
			if err != nil {
				return err
			}
			v, err := a.ledger.VerifyEvidence(ctx, id, content)
			if err != nil {
				return err
			}
			if jsonOutput(cmd) {
				return printJSON(cmd.OutOrStdout(), v)
			}
			if v.Intact() {
				fmt.Fprintf(cmd.OutOrStdout(), "Evidence %s is intact.\n", id)
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Evidence %s does NOT match.\n  recorded: %s\n  file:     %s\n", id, v.ExpectedHash, v.ActualHash)
			return fmt.Errorf("evidence %s failed verification", id)
		}),
	}
	verify.Flags().String("file", "", "file to check")
	_ = verify.MarkFlagRequired("file")

	history := &cobra.Command{
		Use:   "history <id>",
		Short: "Show the custody chain of an evidence item",
		Args:  cobra.ExactArgs(1),
		RunE: run(true, func(ctx context.Context, a *app, cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			entries, err := a.ledger.CustodyHistory(ctx, id)
			if err != nil {
				return err
			}
			if jsonOutput(cmd) {
				return printJSON(cmd.OutOrStdout(), entries)
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "WHEN\tCUSTODIAN\tNOTES")
			for _, e := range entries {
				fmt.Fprintf(tw, "%s\t%s\t%s\n", e.Timestamp.Format("2006-01-02 15:04"), e.Custodian.Hex(), e.Notes)
			}
			return tw.Flush()
		}),
	}

	cmd.AddCommand(upload, get, verify, history)
	return cmd
}

func caseCommand() *cobra.Command {
	cmd := &cobra.Command{Use: "case", Short: "Create and inspect cases"}

	create := &cobra.Command{
		Use:   "create",
		Short: "Open a case",
		RunE: run(true, func(ctx context.Context, a *app, cmd *cobra.Command, _ []string) error {
			number, _ := cmd.Flags().GetString("number")
			description, _ := cmd.Flags().GetString("description")
			investigator, err := addressFlag(cmd, "investigator")
			if err != nil {
				return err
			}
			res, err := a.ledger.CreateCase(ctx, number, description, investigator)
			return report(cmd, "Case", res, err)
		}),
	}
	create.Flags().String("number", "", "case number")
	create.Flags().String("description", "", "case description")
	create.Flags().String("investigator", "", "investigator wallet address")
	_ = create.MarkFlagRequired("number")
	_ = create.MarkFlagRequired("investigator")

	get := &cobra.Command{
		Use:   "get <id>",
		Short: "Show a case",
		Args:  cobra.ExactArgs(1),
		RunE: run(true, func(ctx context.Context, a *app, cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			c, err := a.ledger.GetCase(ctx, id)
			if err != nil {
				return err
			}
			if jsonOutput(cmd) {
				return printJSON(cmd.OutOrStdout(), c)
			}
			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "Case %s (%s)\n", c.CaseNumber, c.ID)
			fmt.Fprintf(w, "  description:  %s\n", c.Description)
			fmt.Fprintf(w, "  investigator: %s\n", c.Investigator.Hex())
			fmt.Fprintf(w, "  opened:       %s\n", c.CreatedAt.Format("2006-01-02"))
			fmt.Fprintf(w, "  status:       %d\n", c.Status)
			return nil
		}),
	}

	cmd.AddCommand(create, get)
	return cmd
}

func firCommand() *cobra.Command {
	cmd := &cobra.Command{Use: "fir", Short: "First information reports"}
	file := &cobra.Command{
		Use:   "file",
		Short: "File a FIR",
		RunE: run(true, func(ctx context.Context, a *app, cmd *cobra.Command, _ []string) error {
			number, _ := cmd.Flags().GetString("number")
			description, _ := cmd.Flags().GetString("description")
			location, _ := cmd.Flags().GetString("location")
			res, err := a.ledger.FileFIR(ctx, number, description, location)
			return report(cmd, "FIR", res, err)
		}),
	}
	file.Flags().String("number", "", "FIR number")
	file.Flags().String("description", "", "incident description")
	file.Flags().String("location", "", "incident location")
	_ = file.MarkFlagRequired("number")
	cmd.AddCommand(file)
	return cmd
}

func custodyCommand() *cobra.Command {
	cmd := &cobra.Command{Use: "custody", Short: "Chain of custody"}
	transfer := &cobra.Command{
		Use:   "transfer <evidence-id>",
		Short: "Hand evidence to another custodian",
		Args:  cobra.ExactArgs(1),
		RunE: run(true, func(ctx context.Context, a *app, cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			to, err := addressFlag(cmd, "to")
			if err != nil {
				return err
			}
			notes, _ := cmd.Flags().GetString("notes")
			res, err := a.ledger.TransferCustody(ctx, id, to, notes)
			return report(cmd, "Transfer", res, err)
		}),
	}
	transfer.Flags().String("to", "", "recipient wallet address")
	transfer.Flags().String("notes", "", "transfer notes")
	_ = transfer.MarkFlagRequired("to")
	cmd.AddCommand(transfer)
	return cmd
}

func accessCommand() *cobra.Command {
	cmd := &cobra.Command{Use: "access", Short: "Case access control"}
	change := func(use, short string, grant bool) *cobra.Command {
		return &cobra.Command{
			Use:   use + " <case-id> <address>",
			Short: short,
			Args:  cobra.ExactArgs(2),
			RunE: run(true, func(ctx context.Context, a *app, cmd *cobra.Command, args []string) error {
				id, err := parseID(args[0])
				if err != nil {
					return err
				}
				user, err := domain.ParseAddress(args[1])
				if err != nil {
					return err
				}
				var res *ledger.Result
				if grant {
					res, err = a.ledger.GrantCaseAccess(ctx, id, user)
				} else {
					res, err = a.ledger.RevokeCaseAccess(ctx, id, user)
				}
				return report(cmd, "Access change", res, err)
			}),
		}
	}
	check := &cobra.Command{
		Use:   "check <case-id> <address>",
		Short: "Report whether an address can see a case",
		Args:  cobra.ExactArgs(2),
		RunE: run(true, func(ctx context.Context, a *app, cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			user, err := domain.ParseAddress(args[1])
			if err != nil {
				return err
			}
			ok, err := a.ledger.HasCaseAccess(ctx, id, user)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), ok)
			return nil
		}),
	}
	cmd.AddCommand(change("grant", "Grant case access", true), change("revoke", "Revoke case access", false), check)
	return cmd
}

func roleCommand() *cobra.Command {
	cmd := &cobra.Command{Use: "role", Short: "On-chain role registry"}
	assign := &cobra.Command{
		Use:   "assign <address> <role>",
		Short: "Assign officer, forensic, lawyer or court",
		Args:  cobra.ExactArgs(2),
		RunE: run(true, func(ctx context.Context, a *app, cmd *cobra.Command, args []string) error {
			user, err := domain.ParseAddress(args[0])
			if err != nil {
				return err
			}
			role, err := parseRole(args[1])
			if err != nil {
				return err
			}
			res, err := a.ledger.AssignRole(ctx, user, role)
			return report(cmd, "Role assignment", res, err)
		}),
	}
	revoke := &cobra.Command{
		Use:   "revoke <address>",
		Short: "Remove an address's role",
		Args:  cobra.ExactArgs(1),
		RunE: run(true, func(ctx context.Context, a *app, cmd *cobra.Command, args []string) error {
			user, err := domain.ParseAddress(args[0])
			if err != nil {
				return err
			}
			res, err := a.ledger.RevokeRole(ctx, user)
			return report(cmd, "Role revocation", res, err)
		}),
	}
	show := &cobra.Command{
		Use:   "show <address>",
		Short: "Read an address's registry role",
		Args:  cobra.ExactArgs(1),
		RunE: run(false, func(ctx context.Context, a *app, cmd *cobra.Command, args []string) error {
			user, err := domain.ParseAddress(args[0])
			if err != nil {
				return err
			}
			role, err := a.gateway.GetUserRole(ctx, user)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", user.Hex(), role.Title())
			return nil
		}),
	}
	cmd.AddCommand(assign, revoke, show)
	return cmd
}

func addressFlag(cmd *cobra.Command, name string) (common.Address, error) {
	v, _ := cmd.Flags().GetString(name)
	return domain.ParseAddress(v)
}

// report prints a write outcome. The result is printed even when err is set
// so a reverted or pending transaction still shows its hash.
func report(cmd *cobra.Command, what string, res *ledger.Result, err error) error {
	if jsonOutput(cmd) && res != nil {
		if perr := printJSON(cmd.OutOrStdout(), res); perr != nil {
			return perr
		}
	} else {
		printResult(cmd.OutOrStdout(), what, res)
	}
	return err
}
