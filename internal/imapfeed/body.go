// Copyright (c) 2026 John Earle
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

package imapfeed

import (
	"fmt"
	"io"
	"strings"

	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"

	"github.com/jobtrail/mailsync/internal/models"
)

// parseBody walks the MIME parts and returns the HTML part when there is
// one, otherwise the plain text part.
func parseBody(r io.Reader) (models.EmailBody, error) {
	mr, err := mail.CreateReader(r)
	if err != nil {
		return models.EmailBody{}, fmt.Errorf("create mail reader: %w", err)
	}

	var html, text string
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			return pick(html, text), fmt.Errorf("read part: %w", err)
		}

		h, ok := part.Header.(*mail.InlineHeader)
		if !ok {
			continue
		}
		ct, _, _ := h.ContentType()
		data, err := io.ReadAll(part.Body)
		if err != nil {
			continue
		}

		switch {
		case strings.HasPrefix(ct, "text/html") && html == "":
			html = string(data)
		case (ct == "" || strings.HasPrefix(ct, "text/plain")) && text == "":
			text = string(data)
		}
	}
	return pick(html, text), nil
}

func pick(html, text string) models.EmailBody {
	if html != "" {
		return models.EmailBody{ContentType: "html", Content: html}
	}
	return models.EmailBody{ContentType: "text", Content: text}
}
