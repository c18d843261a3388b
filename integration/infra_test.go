//go:build integration

package integration_test

import (
	"context"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/docker/go-connections/nat"
	"github.com/go-viper/mapstructure/v2"
	"github.com/openkcm/common-sdk/pkg/commoncfg"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/yogamat/auth-session/internal/config"
	"github.com/yogamat/auth-session/internal/dbtest/postgrestest"
	"github.com/yogamat/auth-session/internal/dbtest/valkeytest"
)

type closeFunc func(ctx context.Context)

type infraStat struct {
	PostgresPort   nat.Port
	ValKeyPort     nat.Port
	ConfigFilePath string
	Procdir        string
	SocketPath     string
	Cfg            config.Config

	closeFuncs []closeFunc
}

func initInfra(t *testing.T, exeName string) (istat infraStat) {
	t.Helper()

	// Since the config is read from the file $PWD/config.yaml,
	// we're running a process in a subdirectory so that we aren't interferring with the other tests.
	wd, err := os.Getwd()
	require.NoError(t, err, "failed to get wd")
	istat.Procdir = filepath.Join(wd, exeName+"-test")
	istat.ConfigFilePath = filepath.Join(istat.Procdir, "config.yaml")

	err = os.MkdirAll(istat.Procdir, fs.ModePerm)
	require.NoError(t, err, "failed to create a dir for the process")

	err = os.WriteFile(istat.ConfigFilePath, []byte(validConfig), fs.ModePerm)
	require.NoError(t, err, "failed to write config file")

	err = commoncfg.LoadConfig(&istat.Cfg, nil, istat.Procdir)
	require.NoError(t, err, "failed to load config")

	istat.SocketPath = filepath.Join(istat.Procdir, exeName+".sock")
	istat.Cfg.HTTP.Address = "unix://" + istat.SocketPath

	return istat
}

// PreparePostgres starts a migrated database and selects the postgres backend.
func (istat *infraStat) PreparePostgres(t *testing.T) {
	t.Helper()

	pgClient, pgPort, pgTerminate := postgrestest.Start(t.Context())
	pgClient.Close()

	istat.PostgresPort = pgPort
	istat.closeFuncs = append(istat.closeFuncs, pgTerminate)

	istat.usePostgres(pgPort, postgrestest.DBName, postgrestest.DBUser, postgrestest.DBPassword)
}

func (istat *infraStat) usePostgres(port nat.Port, dbname, user, password string) {
	istat.Cfg.Session.Backend = config.SessionBackendPostgres
	istat.Cfg.Database.Name = dbname
	istat.Cfg.Database.User = commoncfg.SourceRef{Source: "embedded", Value: user}
	istat.Cfg.Database.Password = commoncfg.SourceRef{Source: "embedded", Value: password}
	istat.Cfg.Database.Host = commoncfg.SourceRef{Source: "embedded", Value: "localhost"}
	istat.Cfg.Database.Port = port.Port()
}

// PrepareValKey starts a ValKey instance and selects the valkey backend.
func (istat *infraStat) PrepareValKey(t *testing.T) {
	t.Helper()

	vkClient, vkPort, vkTerminate := valkeytest.Start(t.Context())
	vkClient.Close()

	istat.ValKeyPort = vkPort
	istat.closeFuncs = append(istat.closeFuncs, vkTerminate)

	istat.Cfg.Session.Backend = config.SessionBackendValKey
	istat.Cfg.ValKey.Host = commoncfg.SourceRef{Source: "embedded", Value: valkeytest.Addr(vkPort)}
	istat.Cfg.ValKey.User = commoncfg.SourceRef{Source: "embedded", Value: ""}
	istat.Cfg.ValKey.Password = commoncfg.SourceRef{Source: "embedded", Value: ""}
}

// PrepareConfig writes a config file for running the test into the ConfigFilePath.
func (istat *infraStat) PrepareConfig(t *testing.T) {
	t.Helper()

	configFile, err := os.Create(istat.ConfigFilePath)
	require.NoError(t, err, "failed to create config file")

	cfgMap := make(map[any]any)
	err = mapstructure.Decode(istat.Cfg, &cfgMap)
	require.NoError(t, err, "failed to decode config")

	err = yaml.NewEncoder(configFile).Encode(cfgMap)
	require.NoError(t, err, "failed to write config")
	configFile.Close()
}

// Command returns the binary started with the given sub-command inside the
// process directory. Output goes into <cmdName>.log next to the test.
func (istat *infraStat) Command(t *testing.T, ctx context.Context, cmdName string) *exec.Cmd {
	t.Helper()

	currdir, err := os.Getwd()
	require.NoError(t, err, "failed to get wd")

	cmd := exec.CommandContext(ctx, filepath.Join(currdir, binary), cmdName)
	cmd.Dir = istat.Procdir

	cmdOutPath := filepath.Join(currdir, cmdName+".log")
	cmdOut, err := os.Create(cmdOutPath)
	require.NoError(t, err, "failed to create a log file")
	t.Cleanup(func() { cmdOut.Close() })

	cmd.Stdout = cmdOut
	cmd.Stderr = cmdOut
	t.Logf("starting %s. Logs will be saved into %s", cmdName, cmdOutPath)

	return cmd
}

func (istat *infraStat) Close(ctx context.Context) {
	os.Remove(istat.ConfigFilePath)
	os.RemoveAll(istat.Procdir)

	for _, close := range istat.closeFuncs {
		close(ctx)
	}
}
