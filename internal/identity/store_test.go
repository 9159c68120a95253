package identity

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/lw2bacnet/bridge/internal/infrastructure/database"
	_ "github.com/lw2bacnet/bridge/migrations"
)

// setupTestStore opens a migrated database in a temp directory.
func setupTestStore(t *testing.T) (*SQLiteStore, *database.DB) {
	t.Helper()

	db, err := database.Open(context.Background(), database.Config{
		Path:        filepath.Join(t.TempDir(), "identity.db"),
		WALMode:     true,
		BusyTimeout: 5,
	})
	if err != nil {
		t.Fatalf("database.Open() error = %v", err)
	}
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // Test cleanup

	if err := db.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	return NewSQLiteStore(db.DB), db
}

func mustEUI(t *testing.T, s string) EUI {
	t.Helper()
	eui, err := ParseEUI(s)
	if err != nil {
		t.Fatalf("ParseEUI(%q) error = %v", s, err)
	}
	return eui
}

func countRows(t *testing.T, db *database.DB, table string) int {
	t.Helper()
	var n int
	if err := db.QueryRowContext(context.Background(), "SELECT COUNT(*) FROM "+table).Scan(&n); err != nil {
		t.Fatalf("count %s: %v", table, err)
	}
	return n
}

func TestUpsertDevice_Idempotent(t *testing.T) {
	store, db := setupTestStore(t)
	ctx := context.Background()
	eui := mustEUI(t, "AABBCCDD")

	created, err := store.UpsertDevice(ctx, DeviceRecord{EUI: eui, Decoder: "cayenne.js"})
	if err != nil {
		t.Fatalf("UpsertDevice() error = %v", err)
	}
	if !created {
		t.Error("first UpsertDevice() created = false, want true")
	}

	created, err = store.UpsertDevice(ctx, DeviceRecord{EUI: eui, Decoder: "cayenne.js"})
	if err != nil {
		t.Fatalf("UpsertDevice() second call error = %v", err)
	}
	if created {
		t.Error("second UpsertDevice() created = true, want false")
	}
	if got := countRows(t, db, "device"); got != 1 {
		t.Errorf("device rows = %d, want 1", got)
	}
}

func TestUpsertDevice_DecoderIsSticky(t *testing.T) {
	store, _ := setupTestStore(t)
	ctx := context.Background()
	eui := mustEUI(t, "0102030405060708")

	if _, err := store.UpsertDevice(ctx, DeviceRecord{EUI: eui, Decoder: "sensor.js"}); err != nil {
		t.Fatalf("UpsertDevice() error = %v", err)
	}
	if _, err := store.UpsertDevice(ctx, DeviceRecord{EUI: eui, Decoder: "cayenne.js"}); err != nil {
		t.Fatalf("UpsertDevice() error = %v", err)
	}

	decoder, err := store.DecoderFor(ctx, eui)
	if err != nil {
		t.Fatalf("DecoderFor() error = %v", err)
	}
	if decoder != "sensor.js" {
		t.Errorf("DecoderFor() = %q, want %q", decoder, "sensor.js")
	}
}

func TestDecoderFor_Unknown(t *testing.T) {
	store, _ := setupTestStore(t)

	_, err := store.DecoderFor(context.Background(), mustEUI(t, "FFFF"))
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("DecoderFor() error = %v, want ErrNotFound", err)
	}
}

func TestUpsertDatapoint(t *testing.T) {
	store, db := setupTestStore(t)
	ctx := context.Background()
	eui := mustEUI(t, "AABBCCDD")

	if _, err := store.UpsertDevice(ctx, DeviceRecord{EUI: eui, Decoder: "cayenne.js"}); err != nil {
		t.Fatalf("UpsertDevice() error = %v", err)
	}

	rec := DatapointRecord{EUI: eui, Channel: 1, Name: "temperature", Type: 103, Units: "degreesCelsius", Value: 22.1}
	created, err := store.UpsertDatapoint(ctx, rec)
	if err != nil {
		t.Fatalf("UpsertDatapoint() error = %v", err)
	}
	if !created {
		t.Error("UpsertDatapoint() created = false, want true")
	}

	t.Run("second call leaves row untouched", func(t *testing.T) {
		changed := rec
		changed.Name = "renamed"
		changed.Value = 99
		created, err := store.UpsertDatapoint(ctx, changed)
		if err != nil {
			t.Fatalf("UpsertDatapoint() error = %v", err)
		}
		if created {
			t.Error("UpsertDatapoint() created = true, want false")
		}
		if got := countRows(t, db, "datapoint"); got != 1 {
			t.Errorf("datapoint rows = %d, want 1", got)
		}
		name, err := store.NameOf(ctx, rec.ID())
		if err != nil {
			t.Fatalf("NameOf() error = %v", err)
		}
		if name != "temperature" {
			t.Errorf("NameOf() = %q, want %q", name, "temperature")
		}
	})

	t.Run("lookups", func(t *testing.T) {
		typ, err := store.TypeOf(ctx, rec.ID())
		if err != nil || typ != 103 {
			t.Errorf("TypeOf() = %d, %v; want 103, nil", typ, err)
		}
		units, err := store.UnitsOf(ctx, rec.ID())
		if err != nil || units != "degreesCelsius" {
			t.Errorf("UnitsOf() = %q, %v; want degreesCelsius, nil", units, err)
		}
		objectID, err := store.ObjectIDFor(ctx, rec.ID())
		if err != nil || objectID != 1 {
			t.Errorf("ObjectIDFor() = %d, %v; want 1, nil", objectID, err)
		}
	})

	t.Run("unknown device violates foreign key", func(t *testing.T) {
		_, err := store.UpsertDatapoint(ctx, DatapointRecord{EUI: mustEUI(t, "DEAD"), Channel: 1, Name: "x", Type: 2})
		if !errors.Is(err, ErrStore) {
			t.Errorf("UpsertDatapoint() error = %v, want ErrStore", err)
		}
	})
}

func TestUpsertDatapoint_AllocatesObjectIDs(t *testing.T) {
	store, _ := setupTestStore(t)
	ctx := context.Background()
	a := mustEUI(t, "AA01")
	b := mustEUI(t, "BB02")

	for _, eui := range []EUI{a, b} {
		if _, err := store.UpsertDevice(ctx, DeviceRecord{EUI: eui, Decoder: "cayenne.js"}); err != nil {
			t.Fatalf("UpsertDevice() error = %v", err)
		}
	}

	records := []DatapointRecord{
		{EUI: a, Channel: 1, Name: "temperature", Type: 103},
		{EUI: b, Channel: 1, Name: "temperature", Type: 103},
		{EUI: a, Channel: 2, Name: "humidity", Type: 104},
		{EUI: a, Channel: 1, Name: "temperature", Type: 103}, // duplicate
	}
	for _, rec := range records {
		if _, err := store.UpsertDatapoint(ctx, rec); err != nil {
			t.Fatalf("UpsertDatapoint(%s) error = %v", rec.ID(), err)
		}
	}

	want := map[DatapointID]uint32{
		NewDatapointID(a, 1, ""): 1,
		NewDatapointID(b, 1, ""): 2,
		NewDatapointID(a, 2, ""): 3,
	}
	for id, wantObj := range want {
		got, err := store.ObjectIDFor(ctx, id)
		if err != nil {
			t.Fatalf("ObjectIDFor(%s) error = %v", id, err)
		}
		if got != wantObj {
			t.Errorf("ObjectIDFor(%s) = %d, want %d", id, got, wantObj)
		}
	}

	dp, err := store.DatapointByObjectID(ctx, 2)
	if err != nil {
		t.Fatalf("DatapointByObjectID() error = %v", err)
	}
	if dp.ID != NewDatapointID(b, 1, "") {
		t.Errorf("DatapointByObjectID(2).ID = %s, want %s", dp.ID, NewDatapointID(b, 1, ""))
	}

	if _, err := store.DatapointByObjectID(ctx, 42); !errors.Is(err, ErrNotFound) {
		t.Errorf("DatapointByObjectID(42) error = %v, want ErrNotFound", err)
	}
}

func TestUpdateDatapointValue(t *testing.T) {
	store, _ := setupTestStore(t)
	ctx := context.Background()
	eui := mustEUI(t, "AABBCCDD")

	if _, err := store.UpsertDevice(ctx, DeviceRecord{EUI: eui, Decoder: "cayenne.js"}); err != nil {
		t.Fatalf("UpsertDevice() error = %v", err)
	}
	rec := DatapointRecord{EUI: eui, Channel: 1, Name: "temperature", Type: 103, Value: 22.1}
	if _, err := store.UpsertDatapoint(ctx, rec); err != nil {
		t.Fatalf("UpsertDatapoint() error = %v", err)
	}

	ok, err := store.UpdateDatapointValue(ctx, rec.ID(), 23.0)
	if err != nil || !ok {
		t.Fatalf("UpdateDatapointValue() = %v, %v; want true, nil", ok, err)
	}
	dp, err := store.Datapoint(ctx, rec.ID())
	if err != nil {
		t.Fatalf("Datapoint() error = %v", err)
	}
	if dp.Value != 23.0 {
		t.Errorf("Value = %v, want 23.0", dp.Value)
	}

	ok, err = store.UpdateDatapointValue(ctx, "AABBCCDD-9", 1)
	if err != nil {
		t.Errorf("UpdateDatapointValue(unknown) error = %v, want nil", err)
	}
	if ok {
		t.Error("UpdateDatapointValue(unknown) = true, want false")
	}
}

func TestProfilePorts(t *testing.T) {
	store, _ := setupTestStore(t)
	ctx := context.Background()
	eui := mustEUI(t, "AABBCCDD")

	if err := store.SyncProfilePorts(ctx, map[string]map[int]int{
		"relay": {3: 10, 4: 11},
	}); err != nil {
		t.Fatalf("SyncProfilePorts() error = %v", err)
	}
	if err := store.SyncDeviceOverrides(ctx, map[string]DeviceOverride{
		"aabbccdd": {Name: "office", ProfileID: "relay"},
	}, "cayenne.js"); err != nil {
		t.Fatalf("SyncDeviceOverrides() error = %v", err)
	}

	profile, err := store.ProfileIDFor(ctx, eui)
	if err != nil || profile != "relay" {
		t.Fatalf("ProfileIDFor() = %q, %v; want relay, nil", profile, err)
	}
	port, err := store.DownlinkPortFor(ctx, "relay", 3)
	if err != nil || port != 10 {
		t.Errorf("DownlinkPortFor(relay, 3) = %d, %v; want 10, nil", port, err)
	}
	if _, err := store.DownlinkPortFor(ctx, "relay", 7); !errors.Is(err, ErrNotFound) {
		t.Errorf("DownlinkPortFor(relay, 7) error = %v, want ErrNotFound", err)
	}

	t.Run("datapoint inherits profile port", func(t *testing.T) {
		rec := DatapointRecord{EUI: eui, Channel: 4, Name: "relay", Type: 142}
		if _, err := store.UpsertDatapoint(ctx, rec); err != nil {
			t.Fatalf("UpsertDatapoint() error = %v", err)
		}
		dp, err := store.Datapoint(ctx, rec.ID())
		if err != nil {
			t.Fatalf("Datapoint() error = %v", err)
		}
		if dp.FPort == nil || *dp.FPort != 11 {
			t.Errorf("FPort = %v, want 11", dp.FPort)
		}
	})

	t.Run("resync replaces ports", func(t *testing.T) {
		if err := store.SyncProfilePorts(ctx, map[string]map[int]int{"relay": {3: 20}}); err != nil {
			t.Fatalf("SyncProfilePorts() error = %v", err)
		}
		if _, err := store.DownlinkPortFor(ctx, "relay", 4); !errors.Is(err, ErrNotFound) {
			t.Errorf("DownlinkPortFor(relay, 4) error = %v, want ErrNotFound", err)
		}
	})

	t.Run("device without profile", func(t *testing.T) {
		other := mustEUI(t, "0011")
		if _, err := store.UpsertDevice(ctx, DeviceRecord{EUI: other, Decoder: "cayenne.js"}); err != nil {
			t.Fatalf("UpsertDevice() error = %v", err)
		}
		if _, err := store.ProfileIDFor(ctx, other); !errors.Is(err, ErrNotFound) {
			t.Errorf("ProfileIDFor() error = %v, want ErrNotFound", err)
		}
	})
}

func TestApplication(t *testing.T) {
	store, _ := setupTestStore(t)
	ctx := context.Background()
	eui := mustEUI(t, "AABBCCDD")

	if _, err := store.UpsertDevice(ctx, DeviceRecord{EUI: eui, Decoder: "cayenne.js"}); err != nil {
		t.Fatalf("UpsertDevice() error = %v", err)
	}
	if _, err := store.ApplicationFor(ctx, eui); !errors.Is(err, ErrNotFound) {
		t.Errorf("ApplicationFor() error = %v, want ErrNotFound", err)
	}
	if err := store.SetApplication(ctx, eui, "7"); err != nil {
		t.Fatalf("SetApplication() error = %v", err)
	}
	app, err := store.ApplicationFor(ctx, eui)
	if err != nil || app != "7" {
		t.Errorf("ApplicationFor() = %q, %v; want 7, nil", app, err)
	}
}

func TestSnapshot(t *testing.T) {
	store, _ := setupTestStore(t)
	ctx := context.Background()
	a := mustEUI(t, "AA00")
	b := mustEUI(t, "BB00")

	if _, err := store.UpsertDevice(ctx, DeviceRecord{EUI: b, Decoder: "cayenne.js", Name: "hall"}); err != nil {
		t.Fatalf("UpsertDevice() error = %v", err)
	}
	if _, err := store.UpsertDevice(ctx, DeviceRecord{EUI: a, Decoder: "cayenne.js"}); err != nil {
		t.Fatalf("UpsertDevice() error = %v", err)
	}

	// Inserted out of order on purpose.
	for _, rec := range []DatapointRecord{
		{EUI: b, Channel: 2, Name: "humidity", Type: 104},
		{EUI: a, Channel: 5, Name: "voltage", Type: 116},
		{EUI: b, Channel: 1, Name: "temperature", Type: 103},
		{EUI: a, Channel: 1, Name: "temperature", Type: 103},
	} {
		if _, err := store.UpsertDatapoint(ctx, rec); err != nil {
			t.Fatalf("UpsertDatapoint() error = %v", err)
		}
	}

	rows, err := store.Snapshot(ctx)
	if err != nil {
		t.Fatalf("Snapshot() error = %v", err)
	}
	want := []DatapointID{"AA00-1", "AA00-5", "BB00-1", "BB00-2"}
	if len(rows) != len(want) {
		t.Fatalf("Snapshot() returned %d rows, want %d", len(rows), len(want))
	}
	for i, id := range want {
		if rows[i].ID != id {
			t.Errorf("rows[%d].ID = %s, want %s", i, rows[i].ID, id)
		}
	}
	if rows[2].DeviceName != "hall" {
		t.Errorf("rows[2].DeviceName = %q, want hall", rows[2].DeviceName)
	}
	if rows[0].DeviceName != "" {
		t.Errorf("rows[0].DeviceName = %q, want empty", rows[0].DeviceName)
	}

	again, err := store.Snapshot(ctx)
	if err != nil {
		t.Fatalf("Snapshot() error = %v", err)
	}
	for i := range rows {
		if again[i].ID != rows[i].ID || again[i].ObjectID != rows[i].ObjectID {
			t.Errorf("repeated Snapshot() differs at %d", i)
		}
	}
}

func TestDeviceDeleteCascades(t *testing.T) {
	store, db := setupTestStore(t)
	ctx := context.Background()
	eui := mustEUI(t, "AABBCCDD")

	if _, err := store.UpsertDevice(ctx, DeviceRecord{EUI: eui, Decoder: "cayenne.js"}); err != nil {
		t.Fatalf("UpsertDevice() error = %v", err)
	}
	if _, err := store.UpsertDatapoint(ctx, DatapointRecord{EUI: eui, Channel: 1, Name: "t", Type: 103}); err != nil {
		t.Fatalf("UpsertDatapoint() error = %v", err)
	}
	if _, err := db.ExecContext(ctx, "DELETE FROM device WHERE eui = ?", []byte(eui)); err != nil {
		t.Fatalf("delete device: %v", err)
	}
	if got := countRows(t, db, "datapoint"); got != 0 {
		t.Errorf("datapoint rows after delete = %d, want 0", got)
	}
}

func TestListDevices(t *testing.T) {
	store, _ := setupTestStore(t)
	ctx := context.Background()

	for _, s := range []string{"BB", "AA"} {
		if _, err := store.UpsertDevice(ctx, DeviceRecord{EUI: mustEUI(t, s), Decoder: "cayenne.js"}); err != nil {
			t.Fatalf("UpsertDevice() error = %v", err)
		}
	}
	devices, err := store.ListDevices(ctx)
	if err != nil {
		t.Fatalf("ListDevices() error = %v", err)
	}
	if len(devices) != 2 || devices[0].EUI.String() != "AA" || devices[1].EUI.String() != "BB" {
		t.Errorf("ListDevices() = %+v, want AA then BB", devices)
	}
}
