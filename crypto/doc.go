// Package crypto implements symmetric encryption of message payloads.
//
// Message bodies are sealed with NaCl secretbox (authenticated symmetric
// encryption) under a key obtained from an injected KeyProvider. Sealed
// payloads carry a versioned envelope prefix so that decryption can
// recognize legacy plaintext and return it unchanged instead of failing
// the conversation render.
package crypto
