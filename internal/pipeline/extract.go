package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"fundchat-go/pkg/log"
	"fundchat-go/pkg/tika"
)

// plainTextExts 列出直接按文本解码的扩展名，其余类型一律交给 Tika。
// 无扩展名的文件视为纯文本。
var plainTextExts = map[string]bool{
	"":         true,
	"txt":      true,
	"text":     true,
	"md":       true,
	"markdown": true,
	"csv":      true,
	"tsv":      true,
	"log":      true,
	"json":     true,
	"yaml":     true,
	"yml":      true,
}

// TextExtractor 负责把上传文件的原始字节变成纯文本。
// 提取永不报错：纯文本类型按 UTF-8 → Latin-1 → 占位文本 的阶梯解码；
// PDF、Office 文档等二进制类型走 Tika，失败降级为占位文本。占位文本
// 会照常进入分块与索引，属于静默的数据质量降级而不是请求失败。
type TextExtractor struct {
	tika tika.Extractor
}

// NewTextExtractor 创建一个新的 TextExtractor 实例。
func NewTextExtractor(t tika.Extractor) *TextExtractor {
	return &TextExtractor{tika: t}
}

// Extract 提取文件文本，返回值保证非空。
func (e *TextExtractor) Extract(ctx context.Context, data []byte, fileName string) string {
	if plainTextExts[FileType(fileName)] {
		return extractPlainText(data, fileName)
	}
	return e.extractBinary(ctx, data, fileName)
}

// extractBinary 通过 Tika 提取二进制文档文本，出错或内容全为空白时降级。
func (e *TextExtractor) extractBinary(ctx context.Context, data []byte, fileName string) string {
	if e.tika == nil {
		return binaryPlaceholder(fileName)
	}
	text, err := e.tika.ExtractText(ctx, bytes.NewReader(data), fileName)
	if err != nil {
		log.Warnf("[TextExtractor] Tika 提取失败, file: %s, err: %v", fileName, err)
		return binaryPlaceholder(fileName)
	}
	if strings.TrimSpace(text) == "" {
		log.Warnf("[TextExtractor] Tika 提取结果为空白, file: %s", fileName)
		return binaryPlaceholder(fileName)
	}
	return text
}

// extractPlainText 按 UTF-8 解码，失败退回 Latin-1，结果为空白时降级。
func extractPlainText(data []byte, fileName string) string {
	var text string
	if utf8.Valid(data) {
		text = string(data)
	} else {
		text = decodeLatin1(data)
	}
	if strings.TrimSpace(text) == "" {
		return textPlaceholder(fileName)
	}
	return text
}

// decodeLatin1 将每个字节映射为同值码点，任意字节序列都可解码。
func decodeLatin1(data []byte) string {
	runes := make([]rune, len(data))
	for i, b := range data {
		runes[i] = rune(b)
	}
	return string(runes)
}

func binaryPlaceholder(fileName string) string {
	if strings.EqualFold(filepath.Ext(fileName), ".pdf") {
		return fmt.Sprintf("[Unable to extract text from PDF: %s]", fileName)
	}
	return fmt.Sprintf("[Unable to extract text from %s]", fileName)
}

func textPlaceholder(fileName string) string {
	return fmt.Sprintf("[Could not extract text from %s]", fileName)
}

// FileType 返回不带点的小写扩展名，作为文档元数据中的 file_type。
func FileType(fileName string) string {
	return strings.TrimPrefix(strings.ToLower(filepath.Ext(fileName)), ".")
}
