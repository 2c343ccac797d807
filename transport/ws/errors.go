package ws

import raffelerrors "github.com/raffel-dev/raffel/pkg/errors"

func errMismatchedPrefix(name string, want ChannelType) error {
	return raffelerrors.Wrap(raffelerrors.InvalidArgument, "ws.Engine", "RegisterChannel", nil).
		WithDetails(map[string]any{"channel": name, "declared_type": want, "reason": "name prefix does not match declared type"})
}

func errUnauthorized(channel string) error {
	return raffelerrors.Wrap(raffelerrors.PermissionDenied, "ws.Engine", "Subscribe", nil).
		WithDetails(map[string]any{"channel": channel})
}

func errUnknownChannel(channel string) error {
	return raffelerrors.Wrap(raffelerrors.NotFound, "ws.Engine", "Subscribe", nil).
		WithDetails(map[string]any{"channel": channel})
}
