package provision

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/forgeline/latentpool/journal"
	"github.com/forgeline/latentpool/policy"
	"github.com/forgeline/latentpool/providers"
	"github.com/forgeline/latentpool/providers/memory"
	"github.com/forgeline/latentpool/registry"
	"github.com/forgeline/latentpool/types"
)

func seededProvider() *memory.Provider {
	provider := memory.New("local")
	provider.SeedImage(types.Image{
		ID:        "ami-test",
		OwnerID:   "111111111111",
		Location:  "builds/worker-v3",
		CreatedAt: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
	})
	return provider
}

func TestProvisioner_LaunchWithDefaults(t *testing.T) {
	provider := seededProvider()
	provisioner := NewProvisioner(provider, Options{})

	spec := types.WorkerSpec{
		Name:         "linux-large",
		InstanceType: "m5.large",
		Image:        types.ImageSelector{ID: "ami-test"},
	}

	result, advisories, err := provisioner.Launch(context.Background(), spec)
	if err != nil {
		t.Fatalf("Launch failed: %v", err)
	}
	if result.ImageID != "ami-test" {
		t.Errorf("ImageID = %s, want ami-test", result.ImageID)
	}
	if result.StartTime <= 0 {
		t.Errorf("StartTime = %v, want > 0", result.StartTime)
	}

	if len(advisories) != 2 {
		t.Fatalf("expected 2 advisories for both defaults, got %d: %v", len(advisories), advisories)
	}

	// Built-in defaults reached the provider request.
	if provider.LastLaunch.KeypairName != "latent-worker" {
		t.Errorf("KeypairName = %q, want latent-worker", provider.LastLaunch.KeypairName)
	}
	if provider.LastLaunch.SecurityGroupName != "latent-worker" {
		t.Errorf("SecurityGroupName = %q, want latent-worker", provider.LastLaunch.SecurityGroupName)
	}
}

func TestProvisioner_ImageResolutionFailure(t *testing.T) {
	provider := memory.New("local") // empty catalog
	provisioner := NewProvisioner(provider, Options{})

	spec := types.WorkerSpec{
		Name:         "linux-large",
		InstanceType: "m5.large",
		Image:        types.ImageSelector{ID: "ami-missing"},
		KeypairName:  "k",
		SecurityName: "s",
	}

	_, _, err := provisioner.Launch(context.Background(), spec)
	var resErr *ImageResolutionError
	if !errors.As(err, &resErr) {
		t.Fatalf("expected ImageResolutionError, got %v", err)
	}
}

func TestProvisioner_SpotRetryEndToEnd(t *testing.T) {
	provider := seededProvider()
	provider.SpotRejections = []providers.RejectionReason{
		providers.RejectionPriceTooLow,
		providers.RejectionPriceTooLow,
	}

	provisioner := NewProvisioner(provider, Options{})

	spec := types.WorkerSpec{
		Name:         "linux-large",
		InstanceType: "m5.large",
		Image:        types.ImageSelector{ID: "ami-test"},
		KeypairName:  "k",
		SecurityName: "s",
		Pricing: types.Pricing{
			Spot:            true,
			MaxSpotPrice:    0.40,
			Retry:           3,
			PriceAdjustment: 1.05,
		},
	}

	result, _, err := provisioner.Launch(context.Background(), spec)
	if err != nil {
		t.Fatalf("Launch failed: %v", err)
	}
	if result.InstanceID == "" {
		t.Error("expected an instance id")
	}

	if len(provider.LastBids) != 3 {
		t.Fatalf("expected 3 bids, got %v", provider.LastBids)
	}
	if provider.LastBids[0] != 0.40 {
		t.Errorf("first bid = %v, want the configured maximum", provider.LastBids[0])
	}
	if provider.LastBids[2] <= provider.LastBids[1] || provider.LastBids[1] <= provider.LastBids[0] {
		t.Errorf("bids must strictly rise: %v", provider.LastBids)
	}
}

func TestProvisioner_RegistryLifecycle(t *testing.T) {
	provider := seededProvider()
	reg, err := registry.Open(t.TempDir())
	if err != nil {
		t.Fatalf("failed to open registry: %v", err)
	}
	defer func() { _ = reg.Close() }()

	provisioner := NewProvisioner(provider, Options{Registry: reg})

	spec := types.WorkerSpec{
		Name:         "linux-large",
		InstanceType: "m5.large",
		Image:        types.ImageSelector{ID: "ami-test"},
		KeypairName:  "k",
		SecurityName: "s",
	}

	result, _, err := provisioner.Launch(context.Background(), spec)
	if err != nil {
		t.Fatalf("Launch failed: %v", err)
	}

	state, ok := reg.Get(result.InstanceID)
	if !ok {
		t.Fatal("launched worker missing from registry")
	}
	if state.Worker != "linux-large" {
		t.Errorf("Worker = %s, want linux-large", state.Worker)
	}

	if err := provisioner.Terminate(context.Background(), result.InstanceID); err != nil {
		t.Fatalf("Terminate failed: %v", err)
	}
	if _, ok := reg.Get(result.InstanceID); ok {
		t.Error("terminated worker still in registry")
	}
}

func TestProvisioner_JournalRecordsLifecycle(t *testing.T) {
	provider := seededProvider()
	dir := t.TempDir()
	jnl, err := journal.Open(dir)
	if err != nil {
		t.Fatalf("failed to open journal: %v", err)
	}

	provisioner := NewProvisioner(provider, Options{Journal: jnl})

	spec := types.WorkerSpec{
		Name:         "linux-large",
		InstanceType: "m5.large",
		Image:        types.ImageSelector{ID: "ami-test"},
		KeypairName:  "k",
		SecurityName: "s",
	}

	if _, _, err := provisioner.Launch(context.Background(), spec); err != nil {
		t.Fatalf("Launch failed: %v", err)
	}
	if err := jnl.Close(); err != nil {
		t.Fatalf("failed to close journal: %v", err)
	}

	var entryTypes []journal.EntryType
	err = journal.Replay(dir, time.Time{}, func(entry *journal.Entry) error {
		entryTypes = append(entryTypes, entry.Type)
		return nil
	})
	if err != nil {
		t.Fatalf("Replay failed: %v", err)
	}

	if len(entryTypes) != 2 {
		t.Fatalf("expected submitted and accepted entries, got %v", entryTypes)
	}
	if entryTypes[0] != journal.EntrySubmitted || entryTypes[1] != journal.EntryAccepted {
		t.Errorf("entry order = %v", entryTypes)
	}
}

func TestProvisioner_PolicyDenial(t *testing.T) {
	provider := seededProvider()

	engine := policy.NewEngine()
	policyCode := `package latentpool

import rego.v1

deny contains msg if {
	input.worker.instance_type == "m5.metal"
	msg := "metal instances are not allowed for latent workers"
}`
	if err := engine.LoadPolicy(context.Background(), "no-metal", policyCode); err != nil {
		t.Fatalf("failed to load policy: %v", err)
	}

	provisioner := NewProvisioner(provider, Options{Policy: engine})

	denied := types.WorkerSpec{
		Name:         "metal-worker",
		InstanceType: "m5.metal",
		Image:        types.ImageSelector{ID: "ami-test"},
		KeypairName:  "k",
		SecurityName: "s",
	}
	_, _, err := provisioner.Launch(context.Background(), denied)
	var cfgErr *ConfigurationError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected ConfigurationError, got %v", err)
	}
	if cfgErr.Field != "policy" {
		t.Errorf("Field = %q, want policy", cfgErr.Field)
	}

	allowed := denied
	allowed.Name = "linux-large"
	allowed.InstanceType = "m5.large"
	if _, _, err := provisioner.Launch(context.Background(), allowed); err != nil {
		t.Errorf("allowed spec rejected: %v", err)
	}
}

func TestProvisioner_JournalRecordsSpotRejections(t *testing.T) {
	provider := seededProvider()
	provider.SpotRejections = []providers.RejectionReason{
		providers.RejectionPriceTooLow,
		providers.RejectionPriceTooLow,
	}
	dir := t.TempDir()
	jnl, err := journal.Open(dir)
	if err != nil {
		t.Fatalf("failed to open journal: %v", err)
	}

	provisioner := NewProvisioner(provider, Options{Journal: jnl})

	spec := types.WorkerSpec{
		Name:         "spot-worker",
		InstanceType: "m5.large",
		Image:        types.ImageSelector{ID: "ami-test"},
		KeypairName:  "k",
		SecurityName: "s",
		Pricing: types.Pricing{
			Spot:            true,
			MaxSpotPrice:    0.40,
			Retry:           3,
			PriceAdjustment: 1.05,
		},
	}

	if _, _, err := provisioner.Launch(context.Background(), spec); err != nil {
		t.Fatalf("Launch failed: %v", err)
	}
	if err := jnl.Close(); err != nil {
		t.Fatalf("failed to close journal: %v", err)
	}

	var entryTypes []journal.EntryType
	err = journal.Replay(dir, time.Time{}, func(entry *journal.Entry) error {
		entryTypes = append(entryTypes, entry.Type)
		return nil
	})
	if err != nil {
		t.Fatalf("Replay failed: %v", err)
	}

	want := []journal.EntryType{
		journal.EntrySubmitted,
		journal.EntryRejected,
		journal.EntryRejected,
		journal.EntryAccepted,
	}
	if len(entryTypes) != len(want) {
		t.Fatalf("entry types = %v, want %v", entryTypes, want)
	}
	for i, entryType := range want {
		if entryTypes[i] != entryType {
			t.Fatalf("entry types = %v, want %v", entryTypes, want)
		}
	}
}

func TestProvisioner_JournalRecordsExhaustion(t *testing.T) {
	provider := seededProvider()
	provider.SpotRejections = []providers.RejectionReason{
		providers.RejectionPriceTooLow,
	}
	dir := t.TempDir()
	jnl, err := journal.Open(dir)
	if err != nil {
		t.Fatalf("failed to open journal: %v", err)
	}

	provisioner := NewProvisioner(provider, Options{Journal: jnl})

	spec := types.WorkerSpec{
		Name:         "spot-worker",
		InstanceType: "m5.large",
		Image:        types.ImageSelector{ID: "ami-test"},
		KeypairName:  "k",
		SecurityName: "s",
		Pricing: types.Pricing{
			Spot:         true,
			MaxSpotPrice: 0.40,
		},
	}

	_, _, err = provisioner.Launch(context.Background(), spec)
	var exhausted *CapacityExhaustedError
	if !errors.As(err, &exhausted) {
		t.Fatalf("expected CapacityExhaustedError, got %v", err)
	}
	if err := jnl.Close(); err != nil {
		t.Fatalf("failed to close journal: %v", err)
	}

	var entryTypes []journal.EntryType
	err = journal.Replay(dir, time.Time{}, func(entry *journal.Entry) error {
		entryTypes = append(entryTypes, entry.Type)
		return nil
	})
	if err != nil {
		t.Fatalf("Replay failed: %v", err)
	}

	want := []journal.EntryType{
		journal.EntrySubmitted,
		journal.EntryRejected,
		journal.EntryExhausted,
		journal.EntryFailed,
	}
	if len(entryTypes) != len(want) {
		t.Fatalf("entry types = %v, want %v", entryTypes, want)
	}
	for i, entryType := range want {
		if entryTypes[i] != entryType {
			t.Fatalf("entry types = %v, want %v", entryTypes, want)
		}
	}
}

func TestProvisioner_JournalRecordsAssociation(t *testing.T) {
	provider := seededProvider()
	dir := t.TempDir()
	jnl, err := journal.Open(dir)
	if err != nil {
		t.Fatalf("failed to open journal: %v", err)
	}

	provisioner := NewProvisioner(provider, Options{Journal: jnl})

	address, err := provider.AllocateAddress(context.Background())
	if err != nil {
		t.Fatalf("AllocateAddress failed: %v", err)
	}

	spec := types.WorkerSpec{
		Name:         "linux-large",
		InstanceType: "m5.large",
		Image:        types.ImageSelector{ID: "ami-test"},
		KeypairName:  "k",
		SecurityName: "s",
		ElasticIP:    address,
	}

	if _, _, err := provisioner.Launch(context.Background(), spec); err != nil {
		t.Fatalf("Launch failed: %v", err)
	}
	if err := jnl.Close(); err != nil {
		t.Fatalf("failed to close journal: %v", err)
	}

	var entryTypes []journal.EntryType
	err = journal.Replay(dir, time.Time{}, func(entry *journal.Entry) error {
		entryTypes = append(entryTypes, entry.Type)
		return nil
	})
	if err != nil {
		t.Fatalf("Replay failed: %v", err)
	}

	want := []journal.EntryType{
		journal.EntrySubmitted,
		journal.EntryAssociated,
		journal.EntryAccepted,
	}
	if len(entryTypes) != len(want) {
		t.Fatalf("entry types = %v, want %v", entryTypes, want)
	}
	for i, entryType := range want {
		if entryTypes[i] != entryType {
			t.Fatalf("entry types = %v, want %v", entryTypes, want)
		}
	}
}

func TestProvisioner_ElasticIPAssociation(t *testing.T) {
	provider := seededProvider()
	provisioner := NewProvisioner(provider, Options{})

	address, err := provider.AllocateAddress(context.Background())
	if err != nil {
		t.Fatalf("AllocateAddress failed: %v", err)
	}

	spec := types.WorkerSpec{
		Name:         "linux-large",
		InstanceType: "m5.large",
		Image:        types.ImageSelector{ID: "ami-test"},
		KeypairName:  "k",
		SecurityName: "s",
		ElasticIP:    address,
	}

	result, _, err := provisioner.Launch(context.Background(), spec)
	if err != nil {
		t.Fatalf("Launch failed: %v", err)
	}

	bound, ok := provider.AddressFor(address)
	if !ok || bound != result.InstanceID {
		t.Errorf("address %s bound to %q, want %s", address, bound, result.InstanceID)
	}
}

func TestProvisioner_ValidationFailureNeverReachesProvider(t *testing.T) {
	provider := seededProvider()
	provisioner := NewProvisioner(provider, Options{})

	spec := types.WorkerSpec{
		Name:         "broken",
		InstanceType: "m5.large",
		Image:        types.ImageSelector{ID: "ami-test"},
		SecurityName: "classic-group",
		SubnetID:     "subnet-1",
	}

	_, _, err := provisioner.Launch(context.Background(), spec)
	var cfgErr *ConfigurationError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected ConfigurationError, got %v", err)
	}
	if provider.LastLaunch.ImageID != "" {
		t.Error("provider was called despite validation failure")
	}
}
