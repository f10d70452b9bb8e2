// 手动从评分方案文档提取答案键
//
// 读取 configs/config.yaml 中的模型、OCR 和栅格化配置，输出提取结果 JSON，
// 便于在导入前检查模型提取效果。
//
// 用法: go run scripts/extract_answer_key.go -file scheme.pdf [-out scheme.json]

package main

import (
	"context"
	"encoding/json"
	"flag"
	"gradeglide_backend/internal/config"
	"gradeglide_backend/internal/service"
	"log"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

type scriptConfig struct {
	AI struct {
		Provider       string  `yaml:"provider"`
		BaseURL        string  `yaml:"base_url"`
		APIKey         string  `yaml:"api_key"`
		Model          string  `yaml:"model"`
		TimeoutSeconds int     `yaml:"timeout_seconds"`
		Temperature    float32 `yaml:"temperature"`
	} `yaml:"ai"`
	OCR struct {
		Provider     string `yaml:"provider"`
		TesseractCmd string `yaml:"tesseract_cmd"`
		Language     string `yaml:"language"`
	} `yaml:"ocr"`
	Rasterizer struct {
		PdftoppmPath  string `yaml:"pdftoppm_path"`
		PdftotextPath string `yaml:"pdftotext_path"`
		DPI           int    `yaml:"dpi"`
	} `yaml:"rasterizer"`
}

func main() {
	configPath := flag.String("config", "configs/config.yaml", "配置文件路径")
	file := flag.String("file", "", "评分方案文档（PDF/DOCX/图片）")
	out := flag.String("out", "", "结果输出文件，默认打印到标准输出")
	flag.Parse()

	if *file == "" {
		log.Fatal("必须指定 -file")
	}

	data, err := os.ReadFile(*configPath)
	if err != nil {
		log.Fatalf("无法读取配置文件: %v", err)
	}

	var sc scriptConfig
	if err := yaml.Unmarshal(data, &sc); err != nil {
		log.Fatalf("解析配置文件失败: %v", err)
	}

	aiCfg := config.AIConfig{
		Provider:       sc.AI.Provider,
		BaseURL:        sc.AI.BaseURL,
		APIKey:         sc.AI.APIKey,
		Model:          sc.AI.Model,
		TimeoutSeconds: sc.AI.TimeoutSeconds,
		Temperature:    sc.AI.Temperature,
	}
	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		aiCfg.APIKey = key
	}

	ctx := context.Background()

	client, err := service.NewModelClient(ctx, aiCfg)
	if err != nil {
		log.Fatalf("模型初始化失败: %v", err)
	}
	models := service.NewModelProvider(client, aiCfg.Timeout())

	ocr, err := service.NewOCREngine(ctx, config.OCRConfig{
		Provider:     sc.OCR.Provider,
		TesseractCmd: sc.OCR.TesseractCmd,
		Language:     sc.OCR.Language,
	})
	if err != nil {
		log.Printf("OCR 不可用: %v", err)
		ocr = nil
	}

	rasterizer := service.NewRasterizer(config.RasterizerConfig{
		PdftoppmPath:  sc.Rasterizer.PdftoppmPath,
		PdftotextPath: sc.Rasterizer.PdftotextPath,
		DPI:           sc.Rasterizer.DPI,
	}, "")
	extractor := service.NewSchemeExtractor(models, rasterizer, ocr, sc.Rasterizer.PdftotextPath)

	raw, err := os.ReadFile(*file)
	if err != nil {
		log.Fatalf("无法读取文档: %v", err)
	}

	result := extractor.ExtractFromFile(ctx, filepath.Base(*file), raw)
	encoded, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		log.Fatalf("序列化失败: %v", err)
	}

	if *out == "" {
		os.Stdout.Write(append(encoded, '\n'))
	} else if err := os.WriteFile(*out, encoded, 0644); err != nil {
		log.Fatalf("写入结果失败: %v", err)
	}

	if result.Error != nil {
		log.Printf("提取失败: %s", *result.Error)
		os.Exit(1)
	}
	log.Printf("提取完成，共 %d 题", len(result.Questions))
}
