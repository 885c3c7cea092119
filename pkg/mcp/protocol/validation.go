// Copyright 2026 OneAgent Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package protocol

import "fmt"

// ValidateRequest checks JSON-RPC envelope invariants on an inbound
// request.
func ValidateRequest(req *Request) error {
	if req.JSONRPC != JSONRPCVersion {
		return fmt.Errorf("invalid jsonrpc version: %q (expected %s)", req.JSONRPC, JSONRPCVersion)
	}
	if req.Method == "" {
		return fmt.Errorf("method is required")
	}
	return nil
}

// ValidateResponse checks JSON-RPC envelope invariants on an outbound
// response.
func ValidateResponse(resp *Response) error {
	if resp.JSONRPC != JSONRPCVersion {
		return fmt.Errorf("invalid jsonrpc version: %q (expected %s)", resp.JSONRPC, JSONRPCVersion)
	}
	if resp.ID == nil {
		return fmt.Errorf("response ID is required")
	}
	hasResult := len(resp.Result) > 0
	hasError := resp.Error != nil
	if hasResult == hasError {
		return fmt.Errorf("response must have exactly one of result or error")
	}
	return nil
}
