// SPDX-License-Identifier: ISC
// Copyright (c) 2019-2022 Sectionnet Developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wire_test

import (
	"bytes"
	"testing"

	"github.com/sectionnet/sectiond/fault"
	"github.com/sectionnet/sectiond/keyshare"
	"github.com/sectionnet/sectiond/wire"
	"github.com/sectionnet/sectiond/xorname"
)

func makeEnvelope(t *testing.T, kind wire.Kind, auth wire.Authority, payload []byte) *wire.Envelope {
	t.Helper()
	id, err := wire.NewMsgID()
	if nil != err {
		t.Fatalf("msg id error: %s", err)
	}
	return &wire.Envelope{
		ID:      id,
		Kind:    kind,
		Dst:     wire.Dst{Name: xorname.NewName([]byte("destination"))},
		Auth:    auth,
		Payload: payload,
	}
}

func TestEnvelopeHeaderLayout(t *testing.T) {
	envelope := makeEnvelope(t, wire.KindAntiEntropy,
		wire.AntiEntropyAuth{Name: xorname.NewName([]byte("sender"))},
		[]byte("payload"))

	packed, err := envelope.Pack()
	if nil != err {
		t.Fatalf("pack error: %s", err)
	}

	// fixed positions: version, id, kind, destination name
	if 1 != packed[0] {
		t.Errorf("version byte: actual: %d expected: 1", packed[0])
	}
	if !bytes.Equal(envelope.ID[:], packed[1:17]) {
		t.Error("message id not at offset 1")
	}
	if byte(wire.KindAntiEntropy) != packed[17] {
		t.Errorf("kind byte: actual: %d expected: %d", packed[17], wire.KindAntiEntropy)
	}
	if !bytes.Equal(envelope.Dst.Name[:], packed[18:50]) {
		t.Error("destination name not at offset 18")
	}
}

func TestClientAuthRoundTrip(t *testing.T) {
	client, err := keyshare.NewKeypair()
	if nil != err {
		t.Fatalf("keypair error: %s", err)
	}
	payload := []byte("put chunk request")
	signature, err := client.Sign(payload)
	if nil != err {
		t.Fatalf("sign error: %s", err)
	}

	envelope := makeEnvelope(t, wire.KindClient,
		wire.ClientAuth{PublicKey: client.Public, Signature: signature},
		payload)

	packed, err := envelope.Pack()
	if nil != err {
		t.Fatalf("pack error: %s", err)
	}
	unpacked, err := wire.Unpack(packed)
	if nil != err {
		t.Fatalf("unpack error: %s", err)
	}

	if envelope.ID != unpacked.ID {
		t.Error("message id mismatch")
	}
	if !bytes.Equal(payload, unpacked.Payload) {
		t.Error("payload mismatch")
	}
	auth, ok := unpacked.Auth.(wire.ClientAuth)
	if !ok {
		t.Fatalf("authority type: %T", unpacked.Auth)
	}
	if client.Public != auth.PublicKey {
		t.Error("client key mismatch")
	}
	if err := unpacked.Auth.Verify(unpacked.Payload); nil != err {
		t.Errorf("authority verify error: %s", err)
	}
}

func TestNodeAuthRejectsForgedName(t *testing.T) {
	node, err := keyshare.NewNodeKeypair(10)
	if nil != err {
		t.Fatalf("node keypair error: %s", err)
	}
	payload := []byte("node to node")
	auth := wire.NodeAuth{
		Name:      node.Name,
		PublicKey: node.PublicKey,
		Signature: node.Sign(payload),
	}
	if err := auth.Verify(payload); nil != err {
		t.Fatalf("genuine authority rejected: %s", err)
	}

	// a name the key does not hash to
	forged := auth
	forged.Name = xorname.NewName([]byte("someone else")).WithAge(10)
	if fault.ErrInvalidSignature != forged.Verify(payload) {
		t.Error("forged name accepted")
	}
}

func TestNodeAuthRoundTrip(t *testing.T) {
	node, err := keyshare.NewNodeKeypair(42)
	if nil != err {
		t.Fatalf("node keypair error: %s", err)
	}
	payload := []byte("replicate")
	envelope := makeEnvelope(t, wire.KindNode,
		wire.NodeAuth{
			Name:      node.Name,
			PublicKey: node.PublicKey,
			Signature: node.Sign(payload),
		},
		payload)

	packed, err := envelope.Pack()
	if nil != err {
		t.Fatalf("pack error: %s", err)
	}
	unpacked, err := wire.Unpack(packed)
	if nil != err {
		t.Fatalf("unpack error: %s", err)
	}
	if err := unpacked.Auth.Verify(unpacked.Payload); nil != err {
		t.Errorf("authority verify error: %s", err)
	}
	auth := unpacked.Auth.(wire.NodeAuth)
	if node.Name != auth.Name {
		t.Error("node name mismatch")
	}
}

func TestDataResponseCorrelation(t *testing.T) {
	request, err := wire.NewMsgID()
	if nil != err {
		t.Fatalf("msg id error: %s", err)
	}
	envelope := makeEnvelope(t, wire.KindDataResponse,
		wire.DataResponseAuth{
			Name:        xorname.NewName([]byte("adult")),
			Correlation: request,
		},
		[]byte("chunk bytes"))

	packed, err := envelope.Pack()
	if nil != err {
		t.Fatalf("pack error: %s", err)
	}
	unpacked, err := wire.Unpack(packed)
	if nil != err {
		t.Fatalf("unpack error: %s", err)
	}
	auth := unpacked.Auth.(wire.DataResponseAuth)
	if request != auth.Correlation {
		t.Error("correlation id mismatch")
	}
}

func TestUnpackRejectsTruncated(t *testing.T) {
	envelope := makeEnvelope(t, wire.KindAntiEntropy,
		wire.AntiEntropyAuth{Name: xorname.NewName([]byte("sender"))},
		[]byte("payload"))
	packed, err := envelope.Pack()
	if nil != err {
		t.Fatalf("pack error: %s", err)
	}

	for _, cut := range []int{0, 1, 17, 50, 100, len(packed) - 1} {
		_, err := wire.Unpack(packed[:cut])
		if nil == err {
			t.Errorf("truncation at %d accepted", cut)
		}
	}

	// wrong version byte
	bad := append([]byte{}, packed...)
	bad[0] = 9
	if _, err := wire.Unpack(bad); fault.ErrInvalidEnvelope != err {
		t.Errorf("bad version error: %v", err)
	}
}

func TestMsgRoundTrip(t *testing.T) {
	msg := &wire.Msg{
		Type:      wire.ServiceCmd,
		Operation: wire.OpPutChunk,
		Body:      []byte("chunk and payment"),
	}
	packed, err := msg.Pack()
	if nil != err {
		t.Fatalf("pack error: %s", err)
	}
	unpacked, err := wire.UnpackMsg(packed)
	if nil != err {
		t.Fatalf("unpack error: %s", err)
	}
	if wire.ServiceCmd != unpacked.Type || wire.OpPutChunk != unpacked.Operation {
		t.Errorf("header mismatch: %d %d", unpacked.Type, unpacked.Operation)
	}
	if !bytes.Equal(msg.Body, unpacked.Body) {
		t.Error("body mismatch")
	}

	if _, err := wire.UnpackMsg([]byte{99, 1}); fault.ErrInvalidEnvelope != err {
		t.Errorf("unknown type error: %v", err)
	}
	if _, err := wire.UnpackMsg([]byte{1}); fault.ErrMessageTooShort != err {
		t.Errorf("short buffer error: %v", err)
	}
}
