package engine

import (
	"crypto/ecdsa"
	"fmt"
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/mosaicnetworks/hashgossip/src/config"
	"github.com/mosaicnetworks/hashgossip/src/crypto/keys"
	"github.com/mosaicnetworks/hashgossip/src/peers"
)

func writePeers(t *testing.T, dir string, n int, port int) []*ecdsa.PrivateKey {
	privs := []*ecdsa.PrivateKey{}
	peerSlice := []*peers.Peer{}
	for i := 0; i < n; i++ {
		key, err := keys.GenerateECDSAKey()
		if err != nil {
			t.Fatal(err)
		}
		privs = append(privs, key)
		peerSlice = append(peerSlice, peers.NewPeer(
			keys.PublicKeyHex(&key.PublicKey),
			fmt.Sprintf("127.0.0.1:%d", port+i),
			fmt.Sprintf("peer%d", i),
		))
	}

	if err := peers.NewJSONPeerSet(dir, false).Write(peerSlice); err != nil {
		t.Fatalf("err: %v", err)
	}
	return privs
}

func TestInit(t *testing.T) {
	dir := t.TempDir()
	privs := writePeers(t, dir, 3, 9880)

	if err := keys.NewSimpleKeyfile(fmt.Sprintf("%s/%s", dir, config.DefaultKeyfile)).WriteKey(privs[0]); err != nil {
		t.Fatal(err)
	}

	conf := config.NewTestConfig(t, logrus.DebugLevel)
	conf.SetDataDir(dir)
	conf.BindAddr = "127.0.0.1:9880"
	conf.Store = true
	conf.NoService = true

	engine := NewEngine(conf)
	if err := engine.Init(); err != nil {
		t.Fatal(err)
	}
	defer engine.Shutdown()

	if engine.EventLog == nil {
		t.Fatal("event log should be open when Store is set")
	}
	if engine.Service != nil {
		t.Fatal("service should not be built with NoService")
	}
	if engine.PreviousPeers != nil {
		t.Fatal("there is no peers.previous.json")
	}
	if engine.Peers.Len() != 3 {
		t.Fatalf("expected 3 peers, got %d", engine.Peers.Len())
	}
}

func TestInitRejectsStranger(t *testing.T) {
	dir := t.TempDir()
	writePeers(t, dir, 2, 9890)

	stranger, err := keys.GenerateECDSAKey()
	if err != nil {
		t.Fatal(err)
	}

	conf := config.NewTestConfig(t, logrus.DebugLevel)
	conf.SetDataDir(dir)
	conf.BindAddr = "127.0.0.1:9892"
	conf.NoService = true
	conf.Key = stranger

	engine := NewEngine(conf)
	defer engine.Shutdown()

	if err := engine.Init(); err == nil {
		t.Fatal("a key outside peers.json should be rejected")
	}
	engine.Transport.Close()
}

func TestKeygen(t *testing.T) {
	dir := t.TempDir()

	key, err := Keygen(dir)
	if err != nil {
		t.Fatal(err)
	}

	conf := config.NewDefaultConfig()
	conf.DataDir = dir
	read, err := keys.NewSimpleKeyfile(conf.Keyfile()).ReadKey()
	if err != nil {
		t.Fatal(err)
	}
	if read.D.Cmp(key.D) != 0 {
		t.Fatal("read key differs from generated key")
	}

	if _, err := Keygen(dir); err == nil {
		t.Fatal("Keygen should refuse to overwrite a key")
	}
}
