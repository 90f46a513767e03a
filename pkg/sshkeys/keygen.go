package sshkeys

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"strings"

	"golang.org/x/crypto/ssh"

	"github.com/sidkik/viewsync/pkg/errors"
)

// KeyPair is a freshly generated key.
type KeyPair struct {
	// PrivatePEM is the private key in OpenSSH PEM format.
	PrivatePEM []byte

	// AuthorizedKey is the public key in authorized_keys format.
	AuthorizedKey string
}

// KeyGenerator generates key pairs.
type KeyGenerator interface {
	Generate() (KeyPair, error)
}

type ed25519Generator struct {
	comment string
}

func (g ed25519Generator) Generate() (KeyPair, error) {
	publicKey, privateKey, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return KeyPair{}, errors.WithContext(err, "generate ed25519 key")
	}

	pemBlock, err := ssh.MarshalPrivateKey(privateKey, g.comment)
	if err != nil {
		return KeyPair{}, errors.WithContext(err, "marshal private key")
	}

	sshPublicKey, err := ssh.NewPublicKey(publicKey)
	if err != nil {
		return KeyPair{}, errors.WithContext(err, "convert public key")
	}

	return KeyPair{
		PrivatePEM:    pem.EncodeToMemory(pemBlock),
		AuthorizedKey: strings.TrimSpace(string(ssh.MarshalAuthorizedKey(sshPublicKey))),
	}, nil
}
