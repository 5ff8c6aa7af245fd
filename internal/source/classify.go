package source

import (
	"context"
	"errors"
	"net"

	"github.com/gocolly/colly/v2"

	"github.com/JakeFAU/realtime-price-matcher/internal/pricing"
)

// Classify maps a transport or browser failure to a source error kind.
func Classify(err error) pricing.ErrorKind {
	var se *pricing.SourceError
	if errors.As(err, &se) {
		return se.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return pricing.KindTimeout
	}
	if errors.Is(err, colly.ErrRobotsTxtBlocked) {
		return pricing.KindBlocked
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return pricing.KindTimeout
	}
	return pricing.KindNetwork
}

// Wrap attaches source identity and a kind to err. Existing source errors pass through.
func Wrap(name string, err error) error {
	if err == nil {
		return nil
	}
	var se *pricing.SourceError
	if errors.As(err, &se) {
		return err
	}
	return pricing.NewSourceError(name, Classify(err), err)
}
