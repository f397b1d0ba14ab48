// Package pemutil generates and persists the RSA keypairs used to
// authenticate the master and each minion, and fingerprints public keys
// for the key registry.
package pemutil

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"encoding/pem"
	"errors"
	"fmt"
)

// RsaPair holds a PEM-encoded RSA private/public keypair.
type RsaPair struct {
	Private []byte
	Public  []byte
}

// GenerateRSA generates a new RSA keypair. bits must be a multiple of 2048.
func GenerateRSA(bits int, logo string) (*RsaPair, error) {
	if bits%2048 != 0 {
		return nil, fmt.Errorf("bits must be a multiple of 2048")
	}

	priv, err := rsa.GenerateKey(rand.Reader, bits)
	if err != nil {
		return nil, fmt.Errorf("generate rsa key: %w", err)
	}

	if logo == "" {
		logo = "RSA"
	}

	privPEM := pem.EncodeToMemory(&pem.Block{
		Type:  logo + " PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(priv),
	})

	pubBytes, err := x509.MarshalPKIXPublicKey(&priv.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("marshal public key: %w", err)
	}
	pubPEM := pem.EncodeToMemory(&pem.Block{
		Type:  "PUBLIC KEY",
		Bytes: pubBytes,
	})

	return &RsaPair{Private: privPEM, Public: pubPEM}, nil
}

// Validate checks that the pair decodes into a usable RSA key.
func (p *RsaPair) Validate() error {
	if len(p.Private) == 0 || len(p.Public) == 0 {
		return errors.New("incomplete rsa pair")
	}
	block, _ := pem.Decode(p.Public)
	if block == nil {
		return errors.New("invalid public key pem")
	}
	_, err := x509.ParsePKIXPublicKey(block.Bytes)
	return err
}

// Fingerprint returns the lowercase hex SHA-256 of the DER-encoded
// PKCS#1 public key, as used by the key registry to identify a minion key.
func Fingerprint(pubPEM []byte) (string, error) {
	block, _ := pem.Decode(pubPEM)
	if block == nil {
		return "", errors.New("invalid pem data")
	}

	var pub *rsa.PublicKey
	if key, err := x509.ParsePKIXPublicKey(block.Bytes); err == nil {
		rsaKey, ok := key.(*rsa.PublicKey)
		if !ok {
			return "", errors.New("not an rsa public key")
		}
		pub = rsaKey
	} else if key2, err2 := x509.ParsePKCS1PublicKey(block.Bytes); err2 == nil {
		pub = key2
	} else {
		return "", fmt.Errorf("parse public key: %w", err)
	}

	der := x509.MarshalPKCS1PublicKey(pub)
	sum := sha256.Sum256(der)
	return hex.EncodeToString(sum[:]), nil
}

// EncodeByRSA encrypts plaintext with an RSA public key, chunking the
// payload to respect PKCS1v15's per-block size limit.
func EncodeByRSA(plaintext, publicKey []byte) ([]byte, error) {
	block, _ := pem.Decode(publicKey)
	if block == nil {
		return nil, errors.New("invalid pem format or key type")
	}

	var pub *rsa.PublicKey
	if key, err := x509.ParsePKIXPublicKey(block.Bytes); err == nil {
		rsaKey, ok := key.(*rsa.PublicKey)
		if !ok {
			return nil, errors.New("not an rsa public key")
		}
		pub = rsaKey
	} else if key2, err2 := x509.ParsePKCS1PublicKey(block.Bytes); err2 == nil {
		pub = key2
	} else {
		return nil, fmt.Errorf("parse public key: %w", err)
	}

	maxChunk := pub.Size() - 11
	var out []byte
	for offset := 0; offset < len(plaintext); offset += maxChunk {
		end := offset + maxChunk
		if end > len(plaintext) {
			end = len(plaintext)
		}
		chunk, err := rsa.EncryptPKCS1v15(rand.Reader, pub, plaintext[offset:end])
		if err != nil {
			return nil, fmt.Errorf("encrypt chunk at %d: %w", offset, err)
		}
		out = append(out, chunk...)
	}
	return out, nil
}

// DecodeByRSA decrypts ciphertext produced by EncodeByRSA.
func DecodeByRSA(ciphertext, privateKey []byte) ([]byte, error) {
	block, _ := pem.Decode(privateKey)
	if block == nil {
		return nil, errors.New("invalid pem data")
	}

	var priv *rsa.PrivateKey
	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		priv = key
	} else if key2, err2 := x509.ParsePKCS8PrivateKey(block.Bytes); err2 == nil {
		rsaKey, ok := key2.(*rsa.PrivateKey)
		if !ok {
			return nil, errors.New("not an rsa private key")
		}
		priv = rsaKey
	} else {
		return nil, fmt.Errorf("unsupported private key format: %w", err)
	}

	chunkSize := priv.Size()
	var out []byte
	for offset := 0; offset < len(ciphertext); offset += chunkSize {
		end := offset + chunkSize
		if end > len(ciphertext) {
			end = len(ciphertext)
		}
		chunk, err := rsa.DecryptPKCS1v15(rand.Reader, priv, ciphertext[offset:end])
		if err != nil {
			return nil, fmt.Errorf("decrypt chunk at %d: %w", offset, err)
		}
		out = append(out, chunk...)
	}
	return out, nil
}
