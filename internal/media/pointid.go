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

package media

import (
	"crypto/md5"
	"encoding/hex"
	"strconv"
)

// PointID 由媒体 ID 派生稳定的向量点 ID。
// 取 md5 十六进制前 15 位解析为整数, 60 位结果保证落在 uint64 内,
// 同一媒体 ID 的重复写入总是覆盖同一个点。
func PointID(mediaID string) uint64 {
	sum := md5.Sum([]byte(mediaID))
	h := hex.EncodeToString(sum[:])
	id, _ := strconv.ParseUint(h[:15], 16, 64)
	return id
}
