package flows

import (
	"context"

	"github.com/ofn-labs/authcore/dispatch"
)

// InstructionDeps issues a token for one purpose and queues the job that
// delivers it. Signup, resend and reset requests share it.
type InstructionDeps struct {
	// Throttle, when set, may refuse the send before any token is issued.
	Throttle func(ctx context.Context, account AccountRecord) error
	Issue    func(ctx context.Context, accountID string) (TokenGrant, error)
	Revoke   func(ctx context.Context, accountID string) error
	Enqueue  func(ctx context.Context, account AccountRecord, grant TokenGrant) (dispatch.Handle, error)
}

func (d InstructionDeps) ready() bool {
	return d.Issue != nil && d.Revoke != nil && d.Enqueue != nil
}

// sendInstructions leaves no live token behind when the job cannot be queued,
// so a token only ever exists if its holder can be told about it.
func sendInstructions(ctx context.Context, account AccountRecord, d InstructionDeps, warn func(string, ...any)) (TokenGrant, dispatch.Handle, error) {
	if d.Throttle != nil {
		if err := d.Throttle(ctx, account); err != nil {
			return TokenGrant{}, dispatch.Handle{}, err
		}
	}

	grant, err := d.Issue(ctx, account.ID)
	if err != nil {
		return TokenGrant{}, dispatch.Handle{}, err
	}

	handle, err := d.Enqueue(ctx, account, grant)
	if err != nil {
		if revokeErr := d.Revoke(context.WithoutCancel(ctx), account.ID); revokeErr != nil {
			warn("authcore: token revoke after failed enqueue", "account_id", account.ID, "error", revokeErr)
		}
		return TokenGrant{}, dispatch.Handle{}, err
	}
	return grant, handle, nil
}
