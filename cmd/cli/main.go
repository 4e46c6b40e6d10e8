// Copyright 2026 fanjia1024
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// mediactl 命令行客户端, 通过 HTTP API 操作媒体平台。
// API 地址取 MEDIA_API_URL, 默认 http://localhost:8080。
package main

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(0)
	}

	var err error
	cmd, args := os.Args[1], os.Args[2:]
	switch cmd {
	case "version":
		fmt.Println("mediactl 0.1.0")
	case "health":
		err = doGET("/api/health")
	case "upload":
		err = runUpload(args)
	case "describe":
		err = runDescribe(args)
	case "delete":
		err = runDelete(args)
	case "search":
		err = runSearch(args)
	case "task":
		err = runTask(args)
	case "stats":
		err = doGET("/api/queue/stats")
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", cmd)
		printUsage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runUpload(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: mediactl upload <file_path> [description] [media_id]")
	}
	body := map[string]interface{}{"file_path": args[0]}
	if len(args) > 1 {
		body["description"] = args[1]
	}
	if len(args) > 2 {
		body["media_id"] = args[2]
	}
	return doJSON("POST", "/api/media", body)
}

func runDescribe(args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: mediactl describe <media_id> <description>")
	}
	return doJSON("PUT", "/api/media/"+url.PathEscape(args[0])+"/description",
		map[string]interface{}{"description": args[1]})
}

func runDelete(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: mediactl delete <media_id>")
	}
	return doJSON("DELETE", "/api/media/"+url.PathEscape(args[0]), nil)
}

func runSearch(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: mediactl search <query> [limit]")
	}
	q := url.Values{"q": []string{args[0]}}
	if len(args) > 1 {
		if _, err := strconv.Atoi(args[1]); err != nil {
			return fmt.Errorf("limit must be an integer: %s", args[1])
		}
		q.Set("limit", args[1])
	}
	return doGET("/api/search?" + q.Encode())
}

func runTask(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: mediactl task <task_id>")
	}
	return doGET("/api/tasks/" + url.PathEscape(args[0]))
}

func printUsage() {
	fmt.Print(`mediactl - media platform client

Usage:
  mediactl health                                  服务健康检查
  mediactl upload <file_path> [description] [id]   提交媒体向量化任务
  mediactl describe <media_id> <description>       更新媒体描述
  mediactl delete <media_id>                       删除媒体向量
  mediactl search <query> [limit]                  跨模态搜索
  mediactl task <task_id>                          查询任务状态
  mediactl stats                                   队列与限流状态
  mediactl version                                 版本
`)
}
