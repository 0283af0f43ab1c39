// Pricepipe - Retail Price Extract Ingestion Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pricepipe

package extract

import (
	"archive/zip"
	"bytes"
	"compress/gzip"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"

	"github.com/tomtom215/pricepipe/internal/models"
)

const pricesXML = `<?xml version="1.0" encoding="utf-8"?>
<Root>
  <ChainId>7290027600007</ChainId>
  <Items>
    <Item>
      <ItemCode>7290000000015</ItemCode>
      <ItemName>חלב 3%</ItemName>
      <ManufacturerItemDescription>חלב טרי 3% בקרטון</ManufacturerItemDescription>
      <UnitQty>ליטר</UnitQty>
      <ItemPrice>5,90</ItemPrice>
    </Item>
    <Item>
      <ItemNm>Bread</ItemNm>
      <Price>7.50</Price>
      <UnitOfMeasure>unit</UnitOfMeasure>
    </Item>
    <Item></Item>
  </Items>
</Root>`

const promosXML = `<Root>
  <Promotions>
    <Promotion>
      <PromotionId>42</PromotionId>
      <PromotionDescription>2 for 10</PromotionDescription>
      <DiscountedPrice>10.00</DiscountedPrice>
      <MinQty>2</MinQty>
      <PromotionItems>
        <Item><ItemCode>7290000000015</ItemCode></Item>
      </PromotionItems>
    </Promotion>
  </Promotions>
</Root>`

func gz(t *testing.T, data []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(data); err != nil {
		t.Fatal(err)
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func zipped(t *testing.T, files map[string][]byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, data := range files {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := w.Write(data); err != nil {
			t.Fatal(err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestParseKey(t *testing.T) {
	tests := []struct {
		key      string
		provider string
		branch   string
		docType  models.DocumentType
		ts       time.Time
	}{
		{
			key:      "providers/acme/001/pricesFull_2024050106.gz",
			provider: "acme", branch: "001", docType: models.DocumentTypePrices,
			ts: time.Date(2024, 5, 1, 6, 0, 0, 0, time.UTC),
		},
		{
			key:      "mirror/providers/acme/017/promoFull_202405010630.gz",
			provider: "acme", branch: "017", docType: models.DocumentTypePromotions,
			ts: time.Date(2024, 5, 1, 6, 30, 0, 0, time.UTC),
		},
		{
			key:      "PriceFull7290027600007-001-202405010600.gz",
			provider: "7290027600007", branch: "001", docType: models.DocumentTypePrices,
			ts: time.Date(2024, 5, 1, 6, 0, 0, 0, time.UTC),
		},
		{
			key:      "shufersal/PromoFull7290027600007-215-202405010600.xml.gz",
			provider: "shufersal", branch: "215", docType: models.DocumentTypePromotions,
			ts: time.Date(2024, 5, 1, 6, 0, 0, 0, time.UTC),
		},
		{
			key:      `inbox\tivtaam\PriceFull7290873255550-002-20240501060000.gz`,
			provider: "inbox", branch: "002", docType: models.DocumentTypePrices,
			ts: time.Date(2024, 5, 1, 6, 0, 0, 0, time.UTC),
		},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			info, err := ParseKey(tt.key)
			if err != nil {
				t.Fatalf("ParseKey() error = %v", err)
			}
			if info.Provider != tt.provider || info.Branch != tt.branch || info.DocumentType != tt.docType {
				t.Errorf("ParseKey() = %+v", info)
			}
			if !info.SourceTimestamp.Equal(tt.ts) {
				t.Errorf("timestamp = %v, want %v", info.SourceTimestamp, tt.ts)
			}
		})
	}

	for _, bad := range []string{"readme.txt", "providers/acme/001/stores_2024050106.gz", "PriceFull1-2-2024.gz"} {
		if _, err := ParseKey(bad); !errors.Is(err, ErrUnrecognizedKey) {
			t.Errorf("ParseKey(%q) err = %v, want ErrUnrecognizedKey", bad, err)
		}
	}
}

func TestDecompress(t *testing.T) {
	plain := []byte(pricesXML)
	utf16, err := unicode.UTF16(unicode.LittleEndian, unicode.UseBOM).NewEncoder().Bytes(plain)
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		in   []byte
	}{
		{"plain", plain},
		{"gzip", gz(t, plain)},
		{"zip picks xml member", zipped(t, map[string][]byte{"readme.txt": []byte("x"), "prices.xml": plain})},
		{"utf-8 bom", append([]byte("\xef\xbb\xbf"), plain...)},
		{"utf-16 with bom", utf16},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := Decompress(tt.in, 0)
			if err != nil {
				t.Fatalf("Decompress() error = %v", err)
			}
			if !bytes.Equal(out, plain) {
				t.Errorf("Decompress() = %q...", out[:min(40, len(out))])
			}
		})
	}
}

func TestDecompress_Limit(t *testing.T) {
	data := gz(t, bytes.Repeat([]byte("a"), 4096))
	if _, err := Decompress(data, 1024); !errors.Is(err, ErrTooLarge) {
		t.Errorf("err = %v, want ErrTooLarge", err)
	}
}

func TestParseItems_Prices(t *testing.T) {
	items, err := ParseItems([]byte(pricesXML), models.DocumentTypePrices)
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 2 {
		t.Fatalf("got %d items, want 2", len(items))
	}
	milk := items[0]
	if milk.ProductName != "חלב 3%" {
		t.Errorf("ItemName should outrank ManufacturerItemDescription, got %q", milk.ProductName)
	}
	if milk.Price != "5,90" || milk.Unit != "ליטר" || milk.Barcode != "7290000000015" {
		t.Errorf("milk = %+v", milk)
	}
	if items[1].ProductName != "Bread" || items[1].Price != "7.50" || items[1].Unit != "unit" {
		t.Errorf("bread = %+v", items[1])
	}
}

func TestParseItems_FallbackAliases(t *testing.T) {
	tests := []struct {
		name string
		body string
		want models.Item
	}{
		{
			name: "description names the item",
			body: `<Root><Item><Description>Rye bread</Description><Price>9</Price><UnitQty>unit</UnitQty></Item></Root>`,
			want: models.Item{ProductName: "Rye bread", Price: "9", Unit: "unit"},
		},
		{
			name: "item name outranks description",
			body: `<Root><Item><Description>long text</Description><ItemName>Rye</ItemName><Price>9</Price></Item></Root>`,
			want: models.Item{ProductName: "Rye", Price: "9"},
		},
		{
			name: "quantity carries the unit",
			body: `<Root><Item><ItemName>Flour</ItemName><ItemPrice>4</ItemPrice><Quantity>1 ק"ג</Quantity></Item></Root>`,
			want: models.Item{ProductName: "Flour", Price: "4", Unit: `1 ק"ג`},
		},
		{
			name: "unit of measure outranks quantity in package",
			body: `<Root><Item><ItemName>Water</ItemName><ItemPrice>2</ItemPrice><QuantityInPackage>6</QuantityInPackage><UnitOfMeasure>ליטר</UnitOfMeasure></Item></Root>`,
			want: models.Item{ProductName: "Water", Price: "2", Unit: "ליטר"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			items, err := ParseItems([]byte(tt.body), models.DocumentTypePrices)
			if err != nil {
				t.Fatal(err)
			}
			if len(items) != 1 {
				t.Fatalf("got %d items, want 1", len(items))
			}
			got := items[0]
			if got.ProductName != tt.want.ProductName || got.Price != tt.want.Price || got.Unit != tt.want.Unit {
				t.Errorf("item = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestParseItems_Promotions(t *testing.T) {
	items, err := ParseItems([]byte(promosXML), models.DocumentTypePromotions)
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 1 {
		t.Fatalf("got %d items, want 1", len(items))
	}
	p := items[0]
	if p.PromotionID != "42" || p.Description != "2 for 10" || p.DiscountedPrice != "10.00" || p.MinQty != "2" {
		t.Errorf("promotion = %+v", p)
	}
	if p.Barcode != "7290000000015" {
		t.Errorf("nested item code not collected: %+v", p)
	}
}

func TestParseItems_LegacyCharset(t *testing.T) {
	body := `<?xml version="1.0" encoding="windows-1255"?><Root><Item><ItemName>חלב</ItemName><ItemPrice>5</ItemPrice></Item></Root>`
	encoded, err := charmap.Windows1255.NewEncoder().Bytes([]byte(body))
	if err != nil {
		t.Fatal(err)
	}
	items, err := ParseItems(encoded, models.DocumentTypePrices)
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 1 || items[0].ProductName != "חלב" {
		t.Errorf("items = %+v", items)
	}
}

func TestParseItems_Malformed(t *testing.T) {
	if _, err := ParseItems([]byte("<Root><Item><ItemName>x</Item>"), models.DocumentTypePrices); err == nil {
		t.Error("expected parse error")
	}
}

func TestLoader_Load(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "providers", "acme", "001")
	if err := os.MkdirAll(dir, 0o750); err != nil {
		t.Fatal(err)
	}
	raw := gz(t, []byte(pricesXML))
	path := filepath.Join(dir, "pricesFull_2024050106.gz")
	if err := os.WriteFile(path, raw, 0o600); err != nil {
		t.Fatal(err)
	}

	doc, err := (&Loader{Root: root}).Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if doc.Provider != "acme" || doc.Branch != "001" || doc.DocumentType != models.DocumentTypePrices {
		t.Errorf("doc = %+v", doc)
	}
	if doc.SourceFingerprint != Fingerprint(raw) || len(doc.SourceFingerprint) != 64 {
		t.Errorf("fingerprint = %q", doc.SourceFingerprint)
	}
	if len(doc.Items) != 2 {
		t.Errorf("items = %d", len(doc.Items))
	}
}

func TestFingerprint_Stable(t *testing.T) {
	if Fingerprint([]byte("a")) != Fingerprint([]byte("a")) {
		t.Error("fingerprint not deterministic")
	}
	if Fingerprint([]byte("a")) == Fingerprint([]byte("b")) {
		t.Error("fingerprint collision")
	}
	if !strings.HasPrefix(Fingerprint(nil), "e3b0c442") {
		t.Errorf("Fingerprint(nil) = %s", Fingerprint(nil))
	}
}
