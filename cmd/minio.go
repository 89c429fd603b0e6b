package cmd

import (
	"fmt"
	"log"

	"EchoMark/config"
	"EchoMark/storage"

	"github.com/spf13/cobra"
)

var minioPrefix string

var minioCmd = &cobra.Command{
	Use:   "minio",
	Short: "MinIO存储桶管理",
	Long:  `查看MinIO存储桶中的文件和统计信息，用于排查音频对象的存储状态。`,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("开始连接MinIO服务器...")

		// 加载配置
		cfg := config.Load()
		fmt.Printf("MinIO配置: %s, Bucket: %s\n", cfg.MinioEndpoint, cfg.MinioBucket)

		// 初始化MinIO客户端
		if err := storage.InitMinio(cfg); err != nil {
			log.Fatalf("无法连接到MinIO: %v", err)
		}
		fmt.Println("MinIO连接成功！")

		fmt.Printf("\n列出存储桶中的文件 (前缀: %s)...\n", minioPrefix)
		if err := storage.PrintBucketStatus(minioPrefix); err != nil {
			log.Fatalf("列出文件失败: %v", err)
		}

		fmt.Println("\nMinIO操作完成！")
	},
}

func init() {
	minioCmd.Flags().StringVarP(&minioPrefix, "prefix", "p", "", "只列出指定前缀下的对象")
	rootCmd.AddCommand(minioCmd)
}
