package utils

import "testing"

func TestHashCanonicalPayload_KeyOrderIndependent(t *testing.T) {
	a := []byte(`{"amount":"10.00","currency":"USD","items":[{"qty":2,"sku":"A"}]}`)
	b := []byte(`{"items":[{"sku":"A","qty":2}],"currency":"USD","amount":"10.00"}`)

	hashA, err := HashCanonicalPayload(a)
	if err != nil {
		t.Fatal(err)
	}
	hashB, err := HashCanonicalPayload(b)
	if err != nil {
		t.Fatal(err)
	}
	if hashA != hashB {
		t.Fatalf("hashes differ for key-reordered payloads: %s vs %s", hashA, hashB)
	}
}

func TestHashCanonicalPayload_WhitespaceInsignificant(t *testing.T) {
	a := []byte(`{"x":1}`)
	b := []byte("{\n  \"x\": 1\n}")

	hashA, _ := HashCanonicalPayload(a)
	hashB, _ := HashCanonicalPayload(b)
	if hashA != hashB {
		t.Fatal("whitespace changed the hash")
	}
}

func TestHashCanonicalPayload_DifferentPayloadsDiffer(t *testing.T) {
	hashA, _ := HashCanonicalPayload([]byte(`{"amount":"10.00"}`))
	hashB, _ := HashCanonicalPayload([]byte(`{"amount":"10.01"}`))
	if hashA == hashB {
		t.Fatal("distinct payloads hashed equal")
	}
}

func TestHashCanonicalPayload_EmptyBody(t *testing.T) {
	hashEmpty, err := HashCanonicalPayload(nil)
	if err != nil {
		t.Fatal(err)
	}
	hashNull, err := HashCanonicalPayload([]byte("null"))
	if err != nil {
		t.Fatal(err)
	}
	if hashEmpty != hashNull {
		t.Fatal("empty body and explicit null should canonicalize identically")
	}
}

func TestCanonicalJSON_RejectsGarbage(t *testing.T) {
	if _, err := CanonicalJSON([]byte("{not json")); err == nil {
		t.Fatal("invalid json accepted")
	}
}
