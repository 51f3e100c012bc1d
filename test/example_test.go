package test

import (
	"context"

	authgate "github.com/halcyonlabs/authgate"
	"github.com/redis/go-redis/v9"
)

// ExampleNew demonstrates engine construction with production-style dependencies.
func ExampleNew() {
	rdb := redis.NewClient(&redis.Options{Addr: "127.0.0.1:6379"})
	store := &examplePrincipalStore{}

	engine, _ := authgate.New().
		WithRedis(rdb).
		WithPrincipalStore(store).
		Build()
	_ = engine
}

// ExampleEngine_Login shows a typical login entrypoint call and structured error handling.
func ExampleEngine_Login() {
	var engine *authgate.Engine
	_, err := engine.Login(context.Background(), "alice@example.com", "password", authgate.DeviceSignal{})
	if err != nil {
		_ = err
	}
}

// ExampleEngine_MetricsSnapshot shows how to read in-process metrics counters.
func ExampleEngine_MetricsSnapshot() {
	var engine *authgate.Engine
	snapshot := engine.MetricsSnapshot()
	_ = snapshot
}

type examplePrincipalStore struct{}

func (e *examplePrincipalStore) GetByIdentifier(ctx context.Context, identifier string) (*authgate.PrincipalRecord, error) {
	return &authgate.PrincipalRecord{}, nil
}
func (e *examplePrincipalStore) GetByID(ctx context.Context, principalID string) (*authgate.PrincipalRecord, error) {
	return &authgate.PrincipalRecord{}, nil
}
func (e *examplePrincipalStore) GetByOAuthSubject(ctx context.Context, provider, subject string) (*authgate.PrincipalRecord, error) {
	return &authgate.PrincipalRecord{}, nil
}
func (e *examplePrincipalStore) CreateFromOAuth(ctx context.Context, input authgate.CreateFromOAuthInput) (*authgate.PrincipalRecord, error) {
	return &authgate.PrincipalRecord{}, nil
}
func (e *examplePrincipalStore) UpdatePasswordHash(ctx context.Context, principalID, newHash string) error {
	return nil
}
func (e *examplePrincipalStore) GetTOTP(ctx context.Context, principalID string) (*authgate.TOTPRecord, error) {
	return nil, nil
}
func (e *examplePrincipalStore) SaveTOTP(ctx context.Context, record *authgate.TOTPRecord) error {
	return nil
}
func (e *examplePrincipalStore) DeleteTOTP(ctx context.Context, principalID string) error {
	return nil
}
func (e *examplePrincipalStore) UpdateTOTPLastUsedCounter(ctx context.Context, principalID string, counter int64) error {
	return nil
}
func (e *examplePrincipalStore) ReplaceBackupCodes(ctx context.Context, principalID string, records []authgate.BackupCodeRecord) error {
	return nil
}
func (e *examplePrincipalStore) ConsumeBackupCode(ctx context.Context, principalID string, codeHash [32]byte) (bool, error) {
	return false, nil
}
func (e *examplePrincipalStore) GetWebAuthnCredentials(ctx context.Context, principalID string) ([]authgate.WebAuthnCredentialRecord, error) {
	return nil, nil
}
func (e *examplePrincipalStore) UpdateWebAuthnCounter(ctx context.Context, principalID string, credentialID []byte, signCount uint32) error {
	return nil
}
func (e *examplePrincipalStore) DisableWebAuthnCredential(ctx context.Context, principalID string, credentialID []byte) error {
	return nil
}
