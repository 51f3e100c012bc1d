package authgate

import (
	"context"
	"time"

	"github.com/halcyonlabs/authgate/internal"
)

// IsTrusted reports the trust state of the device described by the
// signal. Missing and expired trust both come back as not trusted.
//
// IsTrusted may return an error when input validation, dependency calls, or security checks fail.
// IsTrusted does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) IsTrusted(ctx context.Context, principalID string, device DeviceSignal) (*TrustStatus, error) {
	if e == nil || e.trust == nil {
		return nil, ErrEngineNotReady
	}
	if !e.config.DeviceTrust.Enabled {
		return &TrustStatus{}, nil
	}

	fingerprint := internal.FingerprintDevice(
		device.Platform, device.OSVersion, device.Model,
		device.Locale, device.Timezone, device.AppVersion,
	)
	if fingerprint == "" {
		return &TrustStatus{}, nil
	}

	record, err := e.trust.Lookup(ctx, principalID, fingerprint)
	if err != nil {
		return nil, ErrBackendUnavailable
	}
	if record == nil {
		e.metricInc(MetricDeviceTrustMiss)
		return &TrustStatus{}, nil
	}

	return &TrustStatus{
		Trusted:          true,
		SkipSecondFactor: record.SkipSecondFactor,
		Label:            record.Label,
		TrustedAt:        time.UnixMilli(record.TrustedAt),
		ExpiresAt:        time.UnixMilli(record.ExpiresAt),
	}, nil
}

// TrustDevice remembers the device for the principal. Re-trusting an
// already trusted device refreshes its expiry and label.
//
// TrustDevice may return an error when input validation, dependency calls, or security checks fail.
// TrustDevice does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) TrustDevice(ctx context.Context, principalID string, device DeviceSignal) error {
	if e == nil || e.trust == nil {
		return ErrEngineNotReady
	}
	if !e.config.DeviceTrust.Enabled {
		return ErrDeviceNotTrusted
	}

	fingerprint := internal.FingerprintDevice(
		device.Platform, device.OSVersion, device.Model,
		device.Locale, device.Timezone, device.AppVersion,
	)
	if fingerprint == "" {
		return ErrDeviceNotTrusted
	}

	return e.rememberDevice(ctx, principalID, fingerprint, device.Label)
}

// RevokeTrustedDevice withdraws trust from a single device.
//
// RevokeTrustedDevice may return an error when input validation, dependency calls, or security checks fail.
// RevokeTrustedDevice does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) RevokeTrustedDevice(ctx context.Context, principalID string, device DeviceSignal) error {
	if e == nil || e.trust == nil {
		return ErrEngineNotReady
	}

	fingerprint := internal.FingerprintDevice(
		device.Platform, device.OSVersion, device.Model,
		device.Locale, device.Timezone, device.AppVersion,
	)
	if fingerprint == "" {
		return ErrDeviceNotTrusted
	}

	existed, err := e.trust.Revoke(ctx, principalID, fingerprint)
	if err != nil {
		return ErrBackendUnavailable
	}
	if !existed {
		return ErrDeviceNotTrusted
	}

	e.emitAudit(ctx, auditEventDeviceTrustRevoked, true, principalID, "", "", nil, func() map[string]string {
		return map[string]string{
			"fingerprint": fingerprint,
		}
	})
	return nil
}

// RevokeAllTrustedDevices withdraws trust from every device of the
// principal. Used after credential resets and suspected compromise.
//
// RevokeAllTrustedDevices may return an error when input validation, dependency calls, or security checks fail.
// RevokeAllTrustedDevices does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) RevokeAllTrustedDevices(ctx context.Context, principalID string) error {
	if e == nil || e.trust == nil {
		return ErrEngineNotReady
	}

	if err := e.trust.RevokeAll(ctx, principalID); err != nil {
		return ErrBackendUnavailable
	}

	e.emitAudit(ctx, auditEventDeviceTrustRevoked, true, principalID, "", "", nil, func() map[string]string {
		return map[string]string{
			"scope": "all",
		}
	})
	return nil
}

// ListTrustedDevices returns the live trusted devices for the
// principal, oldest trust first.
//
// ListTrustedDevices may return an error when input validation, dependency calls, or security checks fail.
// ListTrustedDevices does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) ListTrustedDevices(ctx context.Context, principalID string) ([]TrustStatus, error) {
	if e == nil || e.trust == nil {
		return nil, ErrEngineNotReady
	}

	records, err := e.trust.List(ctx, principalID)
	if err != nil {
		return nil, ErrBackendUnavailable
	}

	out := make([]TrustStatus, 0, len(records))
	for _, r := range records {
		out = append(out, TrustStatus{
			Trusted:          true,
			SkipSecondFactor: r.SkipSecondFactor,
			Label:            r.Label,
			TrustedAt:        time.UnixMilli(r.TrustedAt),
			ExpiresAt:        time.UnixMilli(r.ExpiresAt),
		})
	}
	return out, nil
}
