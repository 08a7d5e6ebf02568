package imagegen

import (
	"fmt"
	"strings"
)

// BuildInstruction turns compose input into a single edit instruction.
func BuildInstruction(in ComposeInput) string {
	parts := []string{}
	title := strings.TrimSpace(in.Title)
	productType := strings.TrimSpace(in.ProductType)
	switch {
	case title != "" && productType != "":
		parts = append(parts, fmt.Sprintf("Edit foto produk agar tampil sebagai \"%s\" (jenis: %s).", title, productType))
	case title != "":
		parts = append(parts, fmt.Sprintf("Edit foto produk agar tampil sebagai \"%s\".", title))
	case productType != "":
		parts = append(parts, fmt.Sprintf("Edit foto produk agar menonjolkan jenis %s.", productType))
	}
	if style := strings.TrimSpace(in.Style); style != "" {
		parts = append(parts, "Gaya visual: "+style+".")
	}
	if background := strings.TrimSpace(in.Background); background != "" {
		parts = append(parts, "Ganti/atur latar: "+background+".")
	}
	if instructions := strings.TrimSpace(in.Instructions); instructions != "" {
		parts = append(parts, "Instruksi tambahan: "+instructions+".")
	}
	parts = append(parts, "Pertahankan bentuk produk asli, proporsi natural, tidak blur, tidak cacat.")
	if aspect := strings.TrimSpace(in.AspectRatio); aspect != "" {
		parts = append(parts, "Komposisi menyesuaikan rasio "+aspect+".")
	}
	return strings.Join(parts, " ")
}
