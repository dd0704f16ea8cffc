package commands

import (
	"bufio"
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AshkanYarmoradi/go-fmodel"
	"github.com/AshkanYarmoradi/go-fmodel/cli/config"
)

const (
	createRestaurant = `{"decider":"Restaurant","kind":"CreateRestaurantCommand","id":"r1","name":"Bistro","menu":{"menuId":"m1","cuisine":"SERBIAN","menuItems":[{"menuItemId":"i1","name":"Sarma","price":"12.50"}]}}`
	createOrder      = `{"decider":"Order","kind":"CreateOrderCommand","id":"o1","restaurantId":"r1","menuItems":[{"menuItemId":"i1","name":"Sarma","price":"12.50"}]}`
)

// testEnv is a bolt-backed configuration in a temporary directory.
type testEnv struct {
	t          *testing.T
	dir        string
	configPath string
}

func setupTestEnv(t *testing.T) *testEnv {
	t.Helper()

	dir := t.TempDir()
	cfg := config.DefaultConfig()
	cfg.Store.Driver = config.DriverBolt
	cfg.Store.Path = "events.db"
	cfg.Log.Level = "error"
	require.NoError(t, cfg.Save(dir))

	return &testEnv{t: t, dir: dir, configPath: filepath.Join(dir, config.ConfigFileName)}
}

// run executes the CLI with the environment's config and returns stdout and stderr.
func (e *testEnv) run(args ...string) (string, string, error) {
	e.t.Helper()
	return runCLI(append([]string{"--config", e.configPath}, args...)...)
}

// file writes content into the environment directory and returns its path.
func (e *testEnv) file(name, content string) string {
	e.t.Helper()
	path := filepath.Join(e.dir, name)
	require.NoError(e.t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func runCLI(args ...string) (string, string, error) {
	root := NewRootCommand()
	var stdout, stderr bytes.Buffer
	root.SetOut(&stdout)
	root.SetErr(&stderr)
	root.SetIn(strings.NewReader(""))
	root.SetArgs(args)
	err := root.Execute()
	return stdout.String(), stderr.String(), err
}

func jsonLines(t *testing.T, output string) []map[string]any {
	t.Helper()
	var docs []map[string]any
	scanner := bufio.NewScanner(strings.NewReader(output))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "{") {
			continue
		}
		var doc map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &doc))
		docs = append(docs, doc)
	}
	return docs
}

func TestVersionCommand(t *testing.T) {
	out, _, err := runCLI("version")
	require.NoError(t, err)

	assert.Contains(t, out, "Version")
	assert.Contains(t, out, Version)
	assert.Contains(t, out, fmodel.Version)
}

func TestInitCommand(t *testing.T) {
	t.Run("writes a valid config", func(t *testing.T) {
		dir := t.TempDir()

		out, _, err := runCLI("init", dir, "--driver", "sqlite", "--name", "kitchen")
		require.NoError(t, err)
		assert.Contains(t, out, "Created")

		cfg, err := config.Load(dir)
		require.NoError(t, err)
		assert.Equal(t, "kitchen", cfg.Project.Name)
		assert.Equal(t, config.DriverSQLite, cfg.Store.Driver)
		assert.Empty(t, cfg.Validate())
	})

	t.Run("keeps an existing config unless forced", func(t *testing.T) {
		dir := t.TempDir()
		_, _, err := runCLI("init", dir, "--name", "first")
		require.NoError(t, err)

		out, _, err := runCLI("init", dir, "--name", "second")
		require.NoError(t, err)
		assert.Contains(t, out, "already exists")

		cfg, err := config.Load(dir)
		require.NoError(t, err)
		assert.Equal(t, "first", cfg.Project.Name)

		_, _, err = runCLI("init", dir, "--name", "second", "--force")
		require.NoError(t, err)
		cfg, err = config.Load(dir)
		require.NoError(t, err)
		assert.Equal(t, "second", cfg.Project.Name)
	})

	t.Run("rejects an invalid driver", func(t *testing.T) {
		_, _, err := runCLI("init", t.TempDir(), "--driver", "mysql")
		assert.ErrorContains(t, err, "store.driver")
	})

	t.Run("non-interactive uses flags and defaults", func(t *testing.T) {
		dir := t.TempDir()

		out, _, err := runCLI("init", dir, "--non-interactive", "--serializer", "msgpack")
		require.NoError(t, err)
		assert.NotContains(t, out, "Project Configuration")

		cfg, err := config.Load(dir)
		require.NoError(t, err)
		assert.Equal(t, filepath.Base(dir), cfg.Project.Name)
		assert.Equal(t, config.DefaultConfig().Store.Driver, cfg.Store.Driver)
		assert.Equal(t, "msgpack", cfg.Serializer)
	})
}

func TestInitForm(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Project.Name = "kitchen"

	form := initForm(cfg)
	require.NotNil(t, form)
	assert.Equal(t, "kitchen", cfg.Project.Name)

	assert.True(t, needsPath(config.DriverBolt))
	assert.True(t, needsPath(config.DriverSQLite))
	assert.False(t, needsPath(config.DriverPostgres))
	assert.False(t, needsPath(config.DriverMemory))
}

func TestMigrateCommand(t *testing.T) {
	env := setupTestEnv(t)

	out, _, err := env.run("migrate")
	require.NoError(t, err)
	assert.Contains(t, out, "bolt store is initialized")
	assert.Contains(t, out, "no versioned schema")

	_, err = os.Stat(filepath.Join(env.dir, "events.db"))
	assert.NoError(t, err)
}

func TestHandleCommand(t *testing.T) {
	t.Run("handles commands and projects the view", func(t *testing.T) {
		env := setupTestEnv(t)
		input := env.file("commands.ndjson", createRestaurant+"\n"+createOrder+"\n")

		out, _, err := env.run("handle", input, "--project", "-o", "json")
		require.NoError(t, err)

		docs := jsonLines(t, out)
		require.Len(t, docs, 2)
		assert.Equal(t, "RestaurantCreatedEvent", docs[0]["kind"])
		assert.Equal(t, "r1", docs[0]["streamId"])
		assert.Equal(t, "OrderCreatedEvent", docs[1]["kind"])

		out, _, err = env.run("view", "r1")
		require.NoError(t, err)
		assert.Contains(t, out, `"name": "Bistro"`)

		out, _, err = env.run("view", "o1")
		require.NoError(t, err)
		assert.Contains(t, out, `"status": "CREATED"`)

		out, _, err = env.run("view", "status")
		require.NoError(t, err)
		assert.Contains(t, out, "restaurant-order-view")
		assert.Contains(t, out, "ok")
	})

	t.Run("reads commands from stdin", func(t *testing.T) {
		env := setupTestEnv(t)

		root := NewRootCommand()
		var stdout bytes.Buffer
		root.SetOut(&stdout)
		root.SetErr(&bytes.Buffer{})
		root.SetIn(strings.NewReader("[" + createRestaurant + "]"))
		root.SetArgs([]string{"--config", env.configPath, "handle"})

		require.NoError(t, root.Execute())
		assert.Contains(t, stdout.String(), "Restaurant.RestaurantCreatedEvent")
	})

	t.Run("replays a repeated command id", func(t *testing.T) {
		env := setupTestEnv(t)
		input := env.file("create.json", createRestaurant)

		first, _, err := env.run("handle", input, "--command-id", "cmd-1", "-o", "json")
		require.NoError(t, err)
		second, _, err := env.run("handle", input, "--command-id", "cmd-1", "-o", "json")
		require.NoError(t, err)

		firstDocs, secondDocs := jsonLines(t, first), jsonLines(t, second)
		require.Len(t, firstDocs, 1)
		require.Len(t, secondDocs, 1)
		assert.Equal(t, firstDocs[0]["id"], secondDocs[0]["id"])

		out, _, err := env.run("stream", "command", "cmd-1", "-o", "json")
		require.NoError(t, err)
		assert.Len(t, jsonLines(t, out), 1)
	})

	t.Run("rejected command is an event", func(t *testing.T) {
		env := setupTestEnv(t)
		input := env.file("twice.ndjson", createRestaurant+"\n"+createRestaurant)

		out, _, err := env.run("handle", input)
		require.NoError(t, err)
		assert.Contains(t, out, "Restaurant.RestaurantCreatedEvent")
		assert.Contains(t, out, "Restaurant.RestaurantNotCreatedEvent")
	})

	t.Run("errors", func(t *testing.T) {
		env := setupTestEnv(t)

		_, _, err := env.run("handle", env.file("unknown.json", `{"decider":"Restaurant","kind":"CloseRestaurant","id":"r1"}`))
		assert.ErrorContains(t, err, "unknown command")

		_, _, err = env.run("handle", env.file("empty.json", "  "))
		assert.ErrorContains(t, err, "no commands")

		_, _, err = env.run("handle", env.file("two.json", createRestaurant+createOrder), "--command-id", "x")
		assert.ErrorContains(t, err, "exactly one command")

		_, _, err = env.run("handle", env.file("one.json", createRestaurant), "-o", "yaml")
		assert.ErrorContains(t, err, "unknown output format")
	})
}

func TestReadCommands(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    int
		wantErr bool
	}{
		{"single object", createRestaurant, 1, false},
		{"array", "[" + createRestaurant + "," + createOrder + "]", 2, false},
		{"newline delimited", createRestaurant + "\n" + createOrder + "\n", 2, false},
		{"concatenated", createRestaurant + createOrder, 2, false},
		{"empty", "\n", 0, false},
		{"broken object", `{"decider":`, 0, true},
		{"broken array", `[{"decider":"Order"}`, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			payloads, err := readCommands(strings.NewReader(tt.input))
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Len(t, payloads, tt.want)
		})
	}
}

func TestStreamCommand(t *testing.T) {
	env := setupTestEnv(t)
	input := env.file("commands.ndjson", createRestaurant+"\n"+createOrder)
	_, _, err := env.run("handle", input)
	require.NoError(t, err)

	t.Run("events", func(t *testing.T) {
		out, _, err := env.run("stream", "events", "r1")
		require.NoError(t, err)
		assert.Contains(t, out, "Restaurant.RestaurantCreatedEvent")
		assert.NotContains(t, out, "OrderCreatedEvent")

		out, _, err = env.run("stream", "events", "r1", "-o", "json")
		require.NoError(t, err)
		docs := jsonLines(t, out)
		require.Len(t, docs, 1)
		payload, ok := docs[0]["payload"].(map[string]any)
		require.True(t, ok)
		assert.Equal(t, "Bistro", payload["name"])
	})

	t.Run("version", func(t *testing.T) {
		out, _, err := env.run("stream", "version", "r1")
		require.NoError(t, err)
		assert.NotEmpty(t, strings.TrimSpace(out))

		out, _, err = env.run("stream", "version", "missing")
		require.NoError(t, err)
		assert.Contains(t, out, "does not exist")
	})

	t.Run("log", func(t *testing.T) {
		out, _, err := env.run("stream", "log", "-o", "json")
		require.NoError(t, err)
		docs := jsonLines(t, out)
		require.Len(t, docs, 2)
		assert.Equal(t, "r1", docs[0]["streamId"])
		assert.Equal(t, "o1", docs[1]["streamId"])

		out, _, err = env.run("stream", "log", "--from", "1", "-o", "json")
		require.NoError(t, err)
		assert.Len(t, jsonLines(t, out), 1)
	})
}

func TestProjectCommand(t *testing.T) {
	t.Run("once catches up", func(t *testing.T) {
		env := setupTestEnv(t)
		_, _, err := env.run("handle", env.file("c.json", createRestaurant))
		require.NoError(t, err)

		out, _, err := env.run("view", "status")
		require.NoError(t, err)
		assert.Contains(t, out, "pending")

		out, _, err = env.run("project", "--once")
		require.NoError(t, err)
		assert.Contains(t, out, "restaurant-order-view")
		assert.Contains(t, out, "done")

		out, _, err = env.run("view", "r1")
		require.NoError(t, err)
		assert.Contains(t, out, `"name": "Bistro"`)
	})

	t.Run("kafka flags need brokers", func(t *testing.T) {
		env := setupTestEnv(t)

		_, _, err := env.run("project", "--once", "--relay")
		assert.ErrorContains(t, err, "kafka.brokers")

		_, _, err = env.run("project", "--once", "--from-kafka")
		assert.ErrorContains(t, err, "kafka.brokers")
	})
}

func TestRebuildCommand(t *testing.T) {
	env := setupTestEnv(t)
	_, _, err := env.run("handle", env.file("c.ndjson", createRestaurant+"\n"+createOrder))
	require.NoError(t, err)

	out, _, err := env.run("rebuild")
	require.NoError(t, err)
	assert.Contains(t, out, "Replayed 2 event(s) into restaurant-order-view")

	out, _, err = env.run("view", "o1")
	require.NoError(t, err)
	assert.Contains(t, out, `"restaurantId": "r1"`)

	_, _, err = env.run("rebuild", "--target", "nowhere")
	assert.ErrorContains(t, err, "unknown target")

	_, _, err = env.run("rebuild", "--target", "relay")
	assert.ErrorContains(t, err, "kafka.brokers")
}

func TestDemoCommand(t *testing.T) {
	env := setupTestEnv(t)

	out, _, err := env.run("demo", "--restaurant-id", "r-demo", "--order-id", "o-demo")
	require.NoError(t, err)

	for _, event := range []string{
		"RestaurantCreatedEvent",
		"RestaurantMenuChangedEvent",
		"RestaurantOrderPlacedEvent",
		"OrderCreatedEvent",
		"OrderPreparedEvent",
		"RestaurantNotCreatedEvent",
	} {
		assert.Contains(t, out, event)
	}
	assert.Contains(t, out, "Projected 6 event(s)")
	assert.Contains(t, out, `"menuId": "menu-2"`)
	assert.Contains(t, out, `"status": "PREPARED"`)
}

func TestDemoCommand_MemoryDriver(t *testing.T) {
	env := setupTestEnv(t)

	out, _, err := env.run("--driver", "memory", "demo")
	require.NoError(t, err)
	assert.Contains(t, out, "Projected 6 event(s)")

	_, err = os.Stat(filepath.Join(env.dir, "events.db"))
	assert.True(t, os.IsNotExist(err))
}

func TestTraceFlag(t *testing.T) {
	env := setupTestEnv(t)

	_, stderr, err := env.run("--trace", "handle", env.file("c.json", createRestaurant))
	require.NoError(t, err)

	assert.Contains(t, stderr, "command.CreateRestaurantCommand")
	assert.Contains(t, stderr, "eventstore.append")
}

func TestMsgpackSerializer(t *testing.T) {
	dir := t.TempDir()
	cfg := config.DefaultConfig()
	cfg.Store.Driver = config.DriverSQLite
	cfg.Store.Path = "events.sqlite"
	cfg.Serializer = "msgpack"
	cfg.Log.Level = "error"
	require.NoError(t, cfg.Save(dir))
	configPath := filepath.Join(dir, config.ConfigFileName)

	input := filepath.Join(dir, "c.json")
	require.NoError(t, os.WriteFile(input, []byte(createRestaurant), 0o644))

	_, _, err := runCLI("--config", configPath, "handle", input, "--project")
	require.NoError(t, err)

	out, _, err := runCLI("--config", configPath, "view", "r1")
	require.NoError(t, err)
	assert.Contains(t, out, `"name": "Bistro"`)
}

func TestLoadConfig(t *testing.T) {
	t.Run("resolves store paths against the config directory", func(t *testing.T) {
		env := setupTestEnv(t)

		cfg, err := (&globalOptions{configPath: env.configPath}).loadConfig()
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(env.dir, "events.db"), cfg.Store.Path)
	})

	t.Run("driver flag overrides the file", func(t *testing.T) {
		env := setupTestEnv(t)

		cfg, err := (&globalOptions{configPath: env.configPath, driver: "memory"}).loadConfig()
		require.NoError(t, err)
		assert.Equal(t, config.DriverMemory, cfg.Store.Driver)
	})

	t.Run("invalid configuration", func(t *testing.T) {
		env := setupTestEnv(t)

		_, err := (&globalOptions{configPath: env.configPath, driver: "mysql"}).loadConfig()
		assert.ErrorContains(t, err, "invalid configuration")
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := (&globalOptions{configPath: filepath.Join(t.TempDir(), "none.yaml")}).loadConfig()
		assert.ErrorIs(t, err, os.ErrNotExist)
	})
}
