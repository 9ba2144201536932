package connectors

import (
	"bufio"
	"errors"
	"io"
	"strings"
)

var (
	errSSEMissingData = errors.New("Downstream SSE payload missing data line")
	errSSENoFrame     = errors.New("Downstream SSE stream ended without a complete frame")
)

// readSSEFrame читает поток до первого завершённого кадра (пустая строка)
// и возвращает склеенные через \n значения его data-строк.
// Кадры только из комментариев (": keepalive") пропускаются.
// Ошибку чтения (в том числе отмену контекста) возвращает как есть.
func readSSEFrame(r io.Reader) ([]byte, error) {
	br := bufio.NewReader(r)

	var (
		data     []string
		hasData  bool
		hasField bool
	)
	for {
		line, err := br.ReadString('\n')
		if err != nil && !(errors.Is(err, io.EOF) && line != "") {
			if errors.Is(err, io.EOF) {
				return nil, errSSENoFrame
			}
			return nil, err
		}
		complete := err == nil
		line = strings.TrimRight(line, "\r\n")

		if line == "" && complete {
			switch {
			case hasData:
				return []byte(strings.Join(data, "\n")), nil
			case hasField:
				return nil, errSSEMissingData
			}
			continue
		}
		if !complete {
			// хвост без перевода строки: кадр не завершён
			return nil, errSSENoFrame
		}

		switch {
		case strings.HasPrefix(line, ":"):
			// комментарий
		case strings.HasPrefix(line, "data:"):
			data = append(data, strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
			hasData = true
		default:
			hasField = true
		}
	}
}
