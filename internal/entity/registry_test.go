package entity

import (
	"context"
	"errors"
	"slices"
	"sort"
	"sync"
	"testing"
)

// MockRepository is a test implementation of Repository.
type MockRepository struct {
	mu       sync.Mutex
	servers  map[string]*Server
	entities map[string]map[string]Entity

	// For testing error paths
	saveErr   error
	deleteErr error
}

func NewMockRepository() *MockRepository {
	return &MockRepository{
		servers:  make(map[string]*Server),
		entities: make(map[string]map[string]Entity),
	}
}

func (m *MockRepository) GetServer(_ context.Context, host string, port int) (*Server, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.servers {
		if s.Host == host && s.Port == port {
			cp := *s
			return &cp, nil
		}
	}
	return nil, ErrServerNotFound
}

func (m *MockRepository) SaveServer(_ context.Context, s *Server) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *s
	m.servers[s.ID] = &cp
	return nil
}

func (m *MockRepository) ListEntities(_ context.Context, serverID string) ([]Entity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Entity, 0, len(m.entities[serverID]))
	for _, e := range m.entities[serverID] {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (m *MockRepository) SaveEntity(_ context.Context, serverID string, e *Entity) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	if m.entities[serverID] == nil {
		m.entities[serverID] = make(map[string]Entity)
	}
	m.entities[serverID][e.Key] = *e
	return nil
}

func (m *MockRepository) DeleteEntities(_ context.Context, serverID string, keys []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.deleteErr != nil {
		return m.deleteErr
	}
	for _, k := range keys {
		delete(m.entities[serverID], k)
	}
	return nil
}

func (m *MockRepository) stored(serverID string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	keys := make([]string, 0, len(m.entities[serverID]))
	for k := range m.entities[serverID] {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func testServer() Server {
	return Server{
		ID:            "srv-1",
		UniqueID:      ServerUniqueID("localhost", 6742),
		Host:          "localhost",
		Port:          6742,
		ConfigVersion: CurrentConfigVersion,
	}
}

// group builds a device group with n LEDs.
func group(ref, key string, leds int) Group {
	g := Group{
		Ref:    ref,
		Device: Entity{Key: key, Kind: KindDevice, Name: ref},
	}
	for i := range leds {
		g.LEDs = append(g.LEDs, Entity{
			Key:  key + "_led_" + string(rune('0'+i)),
			Kind: KindLED,
			Name: ref + " LED",
		})
	}
	return g
}

func addedKeys(d Diff) []string {
	keys := make([]string, len(d.Added))
	for i, e := range d.Added {
		keys[i] = e.Key
	}
	return keys
}

func TestRegistry_ApplyAddsNewEntities(t *testing.T) {
	repo := NewMockRepository()
	reg := NewRegistry(repo, testServer())

	diff, err := reg.Apply(context.Background(), []Group{
		group("strip_0", "SN1", 2),
		group("keyboard_1", "keyboard_1", 0),
	})
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}

	wantAdded := []string{"SN1", "SN1_led_0", "SN1_led_1", "keyboard_1"}
	if got := addedKeys(diff); !slices.Equal(got, wantAdded) {
		t.Errorf("Added = %v, want %v", got, wantAdded)
	}
	if len(diff.Updated) != 0 || len(diff.Removed) != 0 {
		t.Errorf("Updated/Removed = %v/%v, want empty", diff.Updated, diff.Removed)
	}
	if diff.Added[0].UniqueID != "openrgb_localhost_6742_SN1" {
		t.Errorf("UniqueID = %q", diff.Added[0].UniqueID)
	}
	if diff.Added[1].DeviceRef != "strip_0" {
		t.Errorf("LED DeviceRef = %q, want strip_0", diff.Added[1].DeviceRef)
	}

	if reg.Len() != 4 {
		t.Errorf("Len() = %d, want 4", reg.Len())
	}
	if got := members(reg, "strip_0"); !slices.Equal(got, []string{"SN1", "SN1_led_0", "SN1_led_1"}) {
		t.Errorf("members(strip_0) = %v", got)
	}
	if got := members(reg, "keyboard_1"); !slices.Equal(got, []string{"keyboard_1"}) {
		t.Errorf("members(keyboard_1) = %v", got)
	}
	if got := repo.stored("srv-1"); len(got) != 4 {
		t.Errorf("persisted = %v, want 4 entities", got)
	}
}

func TestRegistry_StableKeyAcrossPolls(t *testing.T) {
	reg := NewRegistry(nil, testServer())
	ctx := context.Background()

	if _, err := reg.Apply(ctx, []Group{group("strip_0", "SN1", 1)}); err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	first, _ := reg.Get("SN1")

	diff, err := reg.Apply(ctx, []Group{group("strip_0", "SN1", 1)})
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if len(diff.Added) != 0 || len(diff.Removed) != 0 {
		t.Errorf("second poll Added/Removed = %v/%v, want none", addedKeys(diff), diff.Removed)
	}
	if !slices.Equal(diff.Updated, []string{"SN1", "SN1_led_0"}) {
		t.Errorf("Updated = %v", diff.Updated)
	}

	second, _ := reg.Get("SN1")
	if second.UniqueID != first.UniqueID {
		t.Errorf("UniqueID changed %q -> %q", first.UniqueID, second.UniqueID)
	}
}

func TestRegistry_RemovedDeviceTakesLEDs(t *testing.T) {
	repo := NewMockRepository()
	reg := NewRegistry(repo, testServer())
	ctx := context.Background()

	if _, err := reg.Apply(ctx, []Group{group("strip_0", "SN1", 2), group("fan_1", "SN2", 0)}); err != nil {
		t.Fatalf("Apply() error = %v", err)
	}

	diff, err := reg.Apply(ctx, []Group{group("fan_1", "SN2", 0)})
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}

	want := []string{"SN1", "SN1_led_0", "SN1_led_1"}
	if !slices.Equal(diff.Removed, want) {
		t.Errorf("Removed = %v, want %v", diff.Removed, want)
	}
	if !slices.Equal(diff.Updated, []string{"SN2"}) {
		t.Errorf("Updated = %v, want [SN2]", diff.Updated)
	}
	if registered(reg, "SN1_led_0") {
		t.Error("LED entity still registered after its device vanished")
	}
	if got := repo.stored("srv-1"); !slices.Equal(got, []string{"SN2"}) {
		t.Errorf("persisted = %v, want [SN2]", got)
	}

	// A third poll without the device must not remove it again.
	diff, _ = reg.Apply(ctx, []Group{group("fan_1", "SN2", 0)})
	if len(diff.Removed) != 0 {
		t.Errorf("Removed on third poll = %v, want none", diff.Removed)
	}
}

func TestRegistry_ReenumeratedDeviceKeepsKey(t *testing.T) {
	reg := NewRegistry(nil, testServer())
	ctx := context.Background()

	// Two identical controllers swap indexes; serials stay with the hardware.
	if _, err := reg.Apply(ctx, []Group{group("ram_0", "SN-A", 0), group("ram_1", "SN-B", 0)}); err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	diff, err := reg.Apply(ctx, []Group{group("ram_0", "SN-B", 0), group("ram_1", "SN-A", 0)})
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if len(diff.Added) != 0 || len(diff.Removed) != 0 {
		t.Errorf("swap produced Added=%v Removed=%v", addedKeys(diff), diff.Removed)
	}
	e, err := reg.Get("SN-A")
	if err != nil {
		t.Fatalf("Get(SN-A) error = %v", err)
	}
	if e.DeviceRef != "ram_1" {
		t.Errorf("SN-A DeviceRef = %q, want ram_1", e.DeviceRef)
	}
}

func TestRegistry_ShrunkLEDCountRemovesExtraLEDs(t *testing.T) {
	reg := NewRegistry(nil, testServer())
	ctx := context.Background()

	if _, err := reg.Apply(ctx, []Group{group("strip_0", "SN1", 3)}); err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	diff, _ := reg.Apply(ctx, []Group{group("strip_0", "SN1", 1)})
	if !slices.Equal(diff.Removed, []string{"SN1_led_1", "SN1_led_2"}) {
		t.Errorf("Removed = %v", diff.Removed)
	}
}

func TestRegistry_ApplyRejectsInvalid(t *testing.T) {
	reg := NewRegistry(nil, testServer())

	diff, err := reg.Apply(context.Background(), []Group{
		{Ref: "x_0", Device: Entity{Kind: KindDevice}},
		group("strip_0", "SN1", 0),
		group("strip_1", "SN1", 0),
	})
	if !errors.Is(err, ErrInvalidEntity) {
		t.Errorf("Apply() error = %v, want ErrInvalidEntity", err)
	}
	if got := addedKeys(diff); !slices.Equal(got, []string{"SN1"}) {
		t.Errorf("Added = %v, want [SN1]", got)
	}
}

func TestRegistry_PersistenceErrorKeepsMemoryState(t *testing.T) {
	repo := NewMockRepository()
	repo.saveErr = errors.New("disk full")
	reg := NewRegistry(repo, testServer())

	diff, err := reg.Apply(context.Background(), []Group{group("strip_0", "SN1", 0)})
	if err == nil {
		t.Fatal("Apply() expected persistence error")
	}
	if len(diff.Added) != 1 || !registered(reg, "SN1") {
		t.Error("in-memory state not updated on persistence failure")
	}
}

func TestRegistry_LoadRestoresRefs(t *testing.T) {
	repo := NewMockRepository()
	ctx := context.Background()

	first := NewRegistry(repo, testServer())
	if _, err := first.Apply(ctx, []Group{group("strip_0", "SN1", 2), group("fan_1", "SN2", 0)}); err != nil {
		t.Fatalf("Apply() error = %v", err)
	}

	reg := NewRegistry(repo, testServer())
	if err := reg.Load(ctx); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if reg.Len() != 4 {
		t.Errorf("Len() = %d, want 4", reg.Len())
	}
	if got := members(reg, "strip_0"); !slices.Equal(got, []string{"SN1", "SN1_led_0", "SN1_led_1"}) {
		t.Errorf("members(strip_0) = %v", got)
	}

	// The fan vanished while the bridge was down.
	diff, _ := reg.Apply(ctx, []Group{group("strip_0", "SN1", 2)})
	if !slices.Equal(diff.Removed, []string{"SN2"}) {
		t.Errorf("Removed = %v, want [SN2]", diff.Removed)
	}
}

func TestRegistry_GetReturnsCopy(t *testing.T) {
	reg := NewRegistry(nil, testServer())
	if _, err := reg.Apply(context.Background(), []Group{group("strip_0", "SN1", 0)}); err != nil {
		t.Fatalf("Apply() error = %v", err)
	}

	e, _ := reg.Get("SN1")
	e.Name = "mutated"
	again, _ := reg.Get("SN1")
	if again.Name == "mutated" {
		t.Error("Get() returned the cached entity")
	}

	if _, err := reg.Get("missing"); !errors.Is(err, ErrEntityNotFound) {
		t.Errorf("Get(missing) error = %v, want ErrEntityNotFound", err)
	}
	if got := reg.List(); len(got) != 1 || got[0].Key != "SN1" {
		t.Errorf("List() = %v", got)
	}
}

func TestMigrate(t *testing.T) {
	tests := []struct {
		name        string
		in          Server
		wantChanged bool
		wantErr     bool
		wantID      string
	}{
		{
			name:        "version 1 recomputes unique id",
			in:          Server{Host: "10.0.0.2", Port: 6742, UniqueID: "openrgb_10.0.0.2", ConfigVersion: 1},
			wantChanged: true,
			wantID:      "openrgb_10.0.0.2_6742",
		},
		{
			name:   "current version unchanged",
			in:     Server{Host: "h", Port: 1, UniqueID: "keep", ConfigVersion: CurrentConfigVersion},
			wantID: "keep",
		},
		{
			name:    "future version rejected",
			in:      Server{ConfigVersion: CurrentConfigVersion + 1},
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := tt.in
			changed, err := Migrate(&s)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Migrate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				if !errors.Is(err, ErrUnsupportedVersion) {
					t.Errorf("error = %v, want ErrUnsupportedVersion", err)
				}
				return
			}
			if changed != tt.wantChanged {
				t.Errorf("changed = %v, want %v", changed, tt.wantChanged)
			}
			if s.UniqueID != tt.wantID {
				t.Errorf("UniqueID = %q, want %q", s.UniqueID, tt.wantID)
			}
			if s.ConfigVersion != CurrentConfigVersion {
				t.Errorf("ConfigVersion = %d, want %d", s.ConfigVersion, CurrentConfigVersion)
			}
		})
	}
}

func TestEnsureServer(t *testing.T) {
	repo := NewMockRepository()
	ctx := context.Background()

	s, err := EnsureServer(ctx, repo, Server{Host: "rgb.local", Port: 6742, ClientName: "HA"}, nil)
	if err != nil {
		t.Fatalf("EnsureServer() error = %v", err)
	}
	if s.ID == "" || s.UniqueID != "openrgb_rgb.local_6742" || s.ConfigVersion != CurrentConfigVersion {
		t.Errorf("new server = %+v", s)
	}

	again, err := EnsureServer(ctx, repo, Server{Host: "rgb.local", Port: 6742, ClientName: "Other", AddLEDs: true}, nil)
	if err != nil {
		t.Fatalf("EnsureServer() error = %v", err)
	}
	if again.ID != s.ID {
		t.Errorf("ID changed %q -> %q", s.ID, again.ID)
	}
	if again.ClientName != "Other" || !again.AddLEDs {
		t.Errorf("settings not refreshed: %+v", again)
	}
}

func TestEnsureServer_MigratesVersion1(t *testing.T) {
	repo := NewMockRepository()
	ctx := context.Background()
	old := &Server{ID: "legacy", UniqueID: "openrgb_rgb.local", Host: "rgb.local", Port: 6742, ConfigVersion: 1}
	if err := repo.SaveServer(ctx, old); err != nil {
		t.Fatalf("SaveServer() error = %v", err)
	}

	s, err := EnsureServer(ctx, repo, Server{Host: "rgb.local", Port: 6742}, nil)
	if err != nil {
		t.Fatalf("EnsureServer() error = %v", err)
	}
	if s.ID != "legacy" || s.UniqueID != "openrgb_rgb.local_6742" || s.ConfigVersion != 2 {
		t.Errorf("migrated server = %+v", s)
	}
	stored, _ := repo.GetServer(ctx, "rgb.local", 6742)
	if stored.ConfigVersion != 2 {
		t.Errorf("stored ConfigVersion = %d, want 2", stored.ConfigVersion)
	}
}

func registered(reg *Registry, key string) bool {
	_, err := reg.Get(key)
	return err == nil
}

// members lists the keys announced under ref in List order.
func members(reg *Registry, ref string) []string {
	var out []string
	for _, e := range reg.List() {
		if e.DeviceRef == ref {
			out = append(out, e.Key)
		}
	}
	return out
}
