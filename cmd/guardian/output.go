package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"strings"

	"guardian/internal/auth/models"
	"guardian/internal/ledger"
	"guardian/pkg/domain"
	dErrors "guardian/pkg/domain-errors"
	"guardian/pkg/failure"
)

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printUser(w io.Writer, u *models.AuthenticatedUser) {
	if u == nil {
		fmt.Fprintln(w, "Not signed in.")
		return
	}
	fmt.Fprintf(w, "%s (%s)\n", u.DisplayName, u.RoleTitle)
	fmt.Fprintf(w, "  role:     %s\n", u.Role)
	fmt.Fprintf(w, "  via:      %s\n", u.AuthType)
	if u.Email != "" {
		fmt.Fprintf(w, "  email:    %s\n", u.Email)
	}
	if u.Address != nil {
		fmt.Fprintf(w, "  address:  %s\n", u.Address.Hex())
	}
	if !u.ExpiresAt.IsZero() {
		fmt.Fprintf(w, "  expires:  %s\n", u.ExpiresAt.Format("2006-01-02 15:04:05 MST"))
	}
	perms := u.Role.Permissions()
	names := make([]string, 0, len(perms))
	for _, p := range perms {
		names = append(names, string(p))
	}
	if len(names) == 0 {
		names = append(names, "none")
	}
	fmt.Fprintf(w, "  can:      %s\n", strings.Join(names, ", "))
}

func printResolution(w io.Writer, res *models.Resolution) {
	printUser(w, res.User)
	if res.Bootstrapped {
		fmt.Fprintln(w, "This account was provisioned as the first administrator.")
	}
	for _, warn := range res.Warnings {
		fmt.Fprintf(w, "warning: %s\n", warn.Message)
	}
}

func printResult(w io.Writer, what string, res *ledger.Result) {
	if res == nil {
		return
	}
	if res.Pending {
		fmt.Fprintf(w, "%s submitted, confirmation pending: %s\n", what, res.TxHash.Hex())
		return
	}
	fmt.Fprintf(w, "%s confirmed in block %d: %s\n", what, res.BlockNumber, res.TxHash.Hex())
	if res.ID != nil {
		fmt.Fprintf(w, "  id: %s\n", res.ID)
	}
}

// describeError renders err for the terminal without raw provider text.
func describeError(err error) string {
	if _, ok := failure.As(err); ok {
		return failure.UserMessage(err)
	}
	var de *dErrors.Error
	if errors.As(err, &de) {
		return de.Message
	}
	return err.Error()
}

func parseID(s string) (*big.Int, error) {
	id, ok := new(big.Int).SetString(strings.TrimSpace(s), 10)
	if !ok || id.Sign() <= 0 {
		return nil, dErrors.New(dErrors.CodeInvalidInput, fmt.Sprintf("invalid id %q", s))
	}
	return id, nil
}

func parseRole(s string) (domain.Role, error) {
	r, err := domain.ParseRole(s)
	if err != nil {
		return domain.RoleNone, dErrors.Wrap(err, dErrors.CodeInvalidInput, "unknown role")
	}
	return r, nil
}
