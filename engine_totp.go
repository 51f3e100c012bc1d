package authgate

import (
	"context"
	"errors"
	"time"
)

// ProvisionTOTP generates a fresh TOTP secret for the principal and
// stores it unconfirmed. The secret only becomes a usable second factor
// after ConfirmTOTPSetup proves the authenticator received it.
//
// ProvisionTOTP may return an error when input validation, dependency calls, or security checks fail.
// ProvisionTOTP does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) ProvisionTOTP(ctx context.Context, principalID string) (*TOTPProvisioning, error) {
	if e == nil || e.totp == nil {
		return nil, ErrEngineNotReady
	}
	if !e.config.TOTP.Enabled {
		return nil, ErrTOTPFeatureDisabled
	}

	principal, err := e.principals.GetByID(ctx, principalID)
	if err != nil {
		return nil, ErrPrincipalNotFound
	}
	if principal.Status != AccountActive {
		return nil, ErrAccountDisabled
	}

	if existing, err := e.principals.GetTOTP(ctx, principalID); err == nil && existing != nil && existing.Confirmed {
		// Re-provisioning over a confirmed factor requires disabling it
		// first, so a stolen session cannot silently swap the secret.
		return nil, ErrSecondFactorNotEnrolled
	}

	secret, secretBase32, err := e.totp.GenerateSecret()
	if err != nil {
		return nil, err
	}

	record := &TOTPRecord{
		PrincipalID:     principalID,
		Secret:          secret,
		Confirmed:       false,
		LastUsedCounter: 0,
		CreatedAt:       time.Now().UTC(),
	}
	if err := e.principals.SaveTOTP(ctx, record); err != nil {
		return nil, ErrBackendUnavailable
	}

	e.emitAudit(ctx, auditEventTOTPSetupRequested, true, principalID, "", "", nil, nil)

	return &TOTPProvisioning{
		Secret:      secretBase32,
		OTPAuthURL:  e.totp.ProvisionURI(secretBase32, principal.Identifier),
		Issuer:      e.config.TOTP.Issuer,
		AccountName: principal.Identifier,
	}, nil
}

// ConfirmTOTPSetup verifies a code from the newly provisioned
// authenticator, marks the factor confirmed and returns a fresh set of
// backup codes. The clear-text codes are shown exactly once.
//
// ConfirmTOTPSetup may return an error when input validation, dependency calls, or security checks fail.
// ConfirmTOTPSetup does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) ConfirmTOTPSetup(ctx context.Context, principalID, code string) ([]string, error) {
	if e == nil || e.totp == nil {
		return nil, ErrEngineNotReady
	}
	if !e.config.TOTP.Enabled {
		return nil, ErrTOTPFeatureDisabled
	}

	record, err := e.principals.GetTOTP(ctx, principalID)
	if err != nil {
		if errors.Is(err, ErrPrincipalNotFound) {
			return nil, ErrTOTPNotConfigured
		}
		return nil, ErrBackendUnavailable
	}
	if record == nil || len(record.Secret) == 0 {
		return nil, ErrTOTPNotConfigured
	}
	if record.Confirmed {
		return nil, ErrTOTPInvalid
	}

	ok, counter, err := e.totp.VerifyCode(record.Secret, code, time.Now())
	if err != nil || !ok {
		e.metricInc(MetricTOTPFailure)
		e.emitAudit(ctx, auditEventSecondFactorFailure, false, principalID, "", "", ErrTOTPInvalid, func() map[string]string {
			return map[string]string{
				"reason": "setup_code_mismatch",
			}
		})
		return nil, ErrTOTPInvalid
	}

	record.Confirmed = true
	record.LastUsedCounter = counter
	if err := e.principals.SaveTOTP(ctx, record); err != nil {
		return nil, ErrBackendUnavailable
	}

	codes, err := e.replaceBackupCodes(ctx, principalID)
	if err != nil {
		return nil, err
	}

	e.metricInc(MetricTOTPSuccess)
	e.emitAudit(ctx, auditEventTOTPEnabled, true, principalID, "", "", nil, nil)

	return codes, nil
}

// DisableTOTP turns the factor off after a valid code proves the caller
// holds the authenticator. Backup codes are wiped with it.
//
// DisableTOTP may return an error when input validation, dependency calls, or security checks fail.
// DisableTOTP does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) DisableTOTP(ctx context.Context, principalID, code string) error {
	if e == nil || e.totp == nil {
		return ErrEngineNotReady
	}
	if !e.config.TOTP.Enabled {
		return ErrTOTPFeatureDisabled
	}

	if err := e.verifyTOTPFactor(ctx, principalID, code); err != nil {
		if errors.Is(err, ErrSecondFactorInvalid) {
			e.metricInc(MetricTOTPFailure)
			return ErrTOTPInvalid
		}
		return err
	}

	if err := e.principals.DeleteTOTP(ctx, principalID); err != nil {
		return ErrBackendUnavailable
	}
	if err := e.principals.ReplaceBackupCodes(ctx, principalID, nil); err != nil {
		return ErrBackendUnavailable
	}

	e.emitAudit(ctx, auditEventTOTPDisabled, true, principalID, "", "", nil, nil)
	return nil
}

// RegenerateBackupCodes replaces every backup code after a valid TOTP
// code. Old codes stop working immediately.
//
// RegenerateBackupCodes may return an error when input validation, dependency calls, or security checks fail.
// RegenerateBackupCodes does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) RegenerateBackupCodes(ctx context.Context, principalID, code string) ([]string, error) {
	if e == nil || e.totp == nil {
		return nil, ErrEngineNotReady
	}
	if !e.config.TOTP.Enabled {
		return nil, ErrTOTPFeatureDisabled
	}

	if err := e.verifyTOTPFactor(ctx, principalID, code); err != nil {
		if errors.Is(err, ErrSecondFactorInvalid) {
			e.metricInc(MetricTOTPFailure)
			return nil, ErrTOTPInvalid
		}
		return nil, err
	}

	codes, err := e.replaceBackupCodes(ctx, principalID)
	if err != nil {
		return nil, err
	}

	e.metricInc(MetricBackupCodeRegenerated)
	return codes, nil
}

func (e *Engine) replaceBackupCodes(ctx context.Context, principalID string) ([]string, error) {
	codes, err := generateBackupCodes(e.config.TOTP.BackupCodeCount, e.config.TOTP.BackupCodeLength)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	records := make([]BackupCodeRecord, 0, len(codes))
	for _, c := range codes {
		records = append(records, BackupCodeRecord{
			PrincipalID: principalID,
			CodeHash:    hashBackupCode(c),
			CreatedAt:   now,
		})
	}

	if err := e.principals.ReplaceBackupCodes(ctx, principalID, records); err != nil {
		return nil, ErrBackendUnavailable
	}

	e.emitAudit(ctx, auditEventBackupCodesGenerated, true, principalID, "", "", nil, nil)
	return codes, nil
}
