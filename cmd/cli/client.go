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

package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/go-resty/resty/v2"
)

const requestTimeout = 30 * time.Second

func apiBaseURL() string {
	if u := os.Getenv("MEDIA_API_URL"); u != "" {
		return u
	}
	return "http://localhost:8080"
}

func newClient() *resty.Client {
	return resty.New().
		SetBaseURL(apiBaseURL()).
		SetTimeout(requestTimeout).
		SetHeader("Content-Type", "application/json")
}

// doGET 执行 GET 并打印格式化 JSON 响应
func doGET(path string) error {
	resp, err := newClient().R().Get(path)
	if err != nil {
		return fmt.Errorf("GET %s: %w", path, err)
	}
	return printResponse(resp)
}

// doJSON 执行带 JSON body 的请求并打印响应
func doJSON(method, path string, body interface{}) error {
	req := newClient().R().SetBody(body)
	var resp *resty.Response
	var err error
	switch method {
	case "POST":
		resp, err = req.Post(path)
	case "PUT":
		resp, err = req.Put(path)
	case "DELETE":
		resp, err = req.Delete(path)
	default:
		return fmt.Errorf("unsupported method %s", method)
	}
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	return printResponse(resp)
}

func printResponse(resp *resty.Response) error {
	var pretty json.RawMessage
	if json.Unmarshal(resp.Body(), &pretty) == nil {
		out, err := json.MarshalIndent(pretty, "", "  ")
		if err == nil {
			fmt.Println(string(out))
		} else {
			fmt.Println(string(resp.Body()))
		}
	} else {
		fmt.Println(string(resp.Body()))
	}
	if resp.IsError() {
		return fmt.Errorf("server returned %d", resp.StatusCode())
	}
	return nil
}
