package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/mosaicnetworks/hashgossip/src/hashgraph"
	"github.com/sirupsen/logrus"
)

func TestSetDataDir(t *testing.T) {
	conf := NewDefaultConfig()
	conf.SetDataDir("/tmp/node0")

	if conf.DatabaseDir != filepath.Join("/tmp/node0", DefaultBadgerFile) {
		t.Fatalf("database dir should follow datadir, got %s", conf.DatabaseDir)
	}

	conf.DatabaseDir = "/var/db"
	conf.SetDataDir("/tmp/node1")
	if conf.DatabaseDir != "/var/db" {
		t.Fatalf("explicit database dir should be kept, got %s", conf.DatabaseDir)
	}
}

func TestMode(t *testing.T) {
	conf := NewDefaultConfig()

	mode, err := conf.Mode()
	if err != nil || mode != hashgraph.GenerationThreshold {
		t.Fatalf("default mode should be generation, got %v, %v", mode, err)
	}

	conf.AncientMode = "birth-round"
	mode, err = conf.Mode()
	if err != nil || mode != hashgraph.BirthRoundThreshold {
		t.Fatalf("expected birth-round, got %v, %v", mode, err)
	}

	conf.AncientMode = "height"
	if _, err := conf.Mode(); err == nil {
		t.Fatal("unknown mode should fail")
	}
}

func TestLoggerWritesFiles(t *testing.T) {
	conf := NewDefaultConfig()
	conf.SetDataDir(t.TempDir())
	conf.LogFile = true
	conf.LogLevel = "debug"

	logger := conf.Logger()
	logger.Info("hello")
	logger.Debug("world")

	for _, name := range []string{DefaultInfoLogFile, DefaultDebugLogFile} {
		info, err := os.Stat(filepath.Join(conf.DataDir, name))
		if err != nil {
			t.Fatal(err)
		}
		if info.Size() == 0 {
			t.Fatalf("%s is empty", name)
		}
	}

	if conf.Logger().Logger.Level != logrus.DebugLevel {
		t.Fatal("logger level not applied")
	}
}
