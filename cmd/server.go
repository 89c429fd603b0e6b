package cmd

import (
	"EchoMark/server"

	"github.com/spf13/cobra"
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "启动EchoMark服务器",
	Long:  `启动EchoMark音频水印系统的HTTP服务器，提供上传、水印嵌入与检测API`,
	Run: func(cmd *cobra.Command, args []string) {
		server.Start()
	},
}

func init() {
	rootCmd.AddCommand(serverCmd)
}
