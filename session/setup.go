package session

import (
	"context"

	"go.viam.com/rgbdview/logging"
	"go.viam.com/rgbdview/sensor"
)

// Options is the stream and synchronization policy applied by Setup.
type Options struct {
	Mode         sensor.VideoMode
	TimeSync     bool
	Registration bool
}

// Setup opens the device, starts its streams and enables synchronization. On failure after the
// device was opened the session is closed before returning.
func Setup(
	ctx context.Context,
	driver sensor.Driver,
	identifier string,
	opts Options,
	logger logging.Logger,
) (*Session, error) {
	sess, err := Open(ctx, driver, identifier, logger)
	if err != nil {
		return nil, err
	}
	if err := sess.StartStreams(ctx, opts.Mode); err != nil {
		if closeErr := sess.Close(ctx); closeErr != nil {
			sess.logger.Warnw("error closing session after failed setup", "error", closeErr)
		}
		return nil, err
	}
	sess.EnableSync(ctx, opts.TimeSync, opts.Registration)
	return sess, nil
}
