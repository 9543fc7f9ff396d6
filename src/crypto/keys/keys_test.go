package keys

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"

	bcrypto "github.com/mosaicnetworks/hashgossip/src/crypto"
)

func TestSimpleKeyfile(t *testing.T) {
	dir := t.TempDir()

	simpleKeyfile := NewSimpleKeyfile(filepath.Join(dir, "priv_key"))

	// Try a read, should get nothing
	key, err := simpleKeyfile.ReadKey()
	if err == nil {
		t.Fatalf("ReadKey should generate an error")
	}
	if key != nil {
		t.Fatalf("key is not nil")
	}

	// Initialize a key and try a write
	key, _ = GenerateECDSAKey()
	if err := simpleKeyfile.WriteKey(key); err != nil {
		t.Fatalf("err: %v", err)
	}

	// Try a read, should get key
	nKey, err := simpleKeyfile.ReadKey()
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	if !reflect.DeepEqual(DumpPrivateKey(nKey), DumpPrivateKey(key)) {
		t.Fatalf("Keys do not match")
	}
}

func TestFilePermissions(t *testing.T) {
	dir := t.TempDir()

	key, _ := GenerateECDSAKey()
	rawKey := PrivateKeyHex(key)

	badKeyPath := filepath.Join(dir, "priv_key_bad")
	for _, fm := range []os.FileMode{0777, 0766, 0744, 0677, 0644, 0444} {
		os.WriteFile(badKeyPath, []byte(rawKey), fm)
		os.Chmod(badKeyPath, fm)
		if _, err := NewSimpleKeyfile(badKeyPath).ReadKey(); err == nil {
			t.Fatalf("%o || badKeyFile should return permissions error", fm)
		}
	}

	goodKeyPath := filepath.Join(dir, "priv_key_good")
	for _, fm := range []os.FileMode{0700, 0600, 0500, 0400} {
		os.WriteFile(goodKeyPath, []byte(rawKey), fm)
		os.Chmod(goodKeyPath, fm)
		if _, err := NewSimpleKeyfile(goodKeyPath).ReadKey(); err != nil {
			t.Fatalf("%o || goodKeyFile should not return error. Got %v", fm, err)
		}
	}
}

func TestSignHash(t *testing.T) {
	privKey, _ := GenerateECDSAKey()

	hash := bcrypto.SHA256([]byte("J'aime mieux forger mon ame que la meubler"))

	sig, err := SignHash(privKey, hash)
	if err != nil {
		t.Fatal(err)
	}

	if !VerifyHash(&privKey.PublicKey, hash, sig) {
		t.Fatal("signature should verify")
	}

	other, _ := GenerateECDSAKey()
	if VerifyHash(&other.PublicKey, hash, sig) {
		t.Fatal("signature should not verify with another key")
	}

	if VerifyHash(&privKey.PublicKey, hash, "") {
		t.Fatal("empty signature should not verify")
	}

	if VerifyHash(&privKey.PublicKey, hash, "not|base36!") {
		t.Fatal("malformed signature should not verify")
	}
}

func TestPublicKeyHexRoundTrip(t *testing.T) {
	privKey, _ := GenerateECDSAKey()

	pubHex := PublicKeyHex(&privKey.PublicKey)

	pub := PublicKeyFromHex(pubHex)
	if pub == nil {
		t.Fatal("public key should parse")
	}
	if pub.X.Cmp(privKey.PublicKey.X) != 0 || pub.Y.Cmp(privKey.PublicKey.Y) != 0 {
		t.Fatal("public keys differ")
	}

	if PublicKeyFromHex("0X1234") != nil {
		t.Fatal("garbage should not parse")
	}
}
