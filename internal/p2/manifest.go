package p2

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

const (
	manifestPath              = "META-INF/MANIFEST.MF"
	manifestDir               = "META-INF/"
	defaultBundleLocalization = "OSGI-INF/l10n/bundle"
)

// manifest 只保存主属性段，p2 只关心 Bundle-* 头。头名不区分大小写，键统一存为小写，
// 读取使用 get。
type manifest map[string]string

func (m manifest) get(name string) string {
	return m[strings.ToLower(name)]
}

// parseManifest 按 jar manifest 语法解析主属性段：以空格开头的行是上一行的续行，
// 第一个空行之后是逐条目的属性段，直接忽略。
func parseManifest(r io.Reader) (manifest, error) {
	out := manifest{}
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 4096), 1<<20)

	var name string
	var value strings.Builder
	flush := func() {
		if name != "" {
			out[name] = value.String()
		}
		name = ""
		value.Reset()
	}

	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSuffix(scanner.Text(), "\r")
		if text == "" {
			break
		}
		if strings.HasPrefix(text, " ") {
			if name == "" {
				return nil, fmt.Errorf("line %d: continuation without header", line)
			}
			value.WriteString(text[1:])
			continue
		}
		flush()
		idx := strings.Index(text, ":")
		if idx <= 0 {
			return nil, fmt.Errorf("line %d: invalid header %q", line, text)
		}
		name = strings.ToLower(strings.TrimSpace(text[:idx]))
		value.WriteString(strings.TrimPrefix(text[idx+1:], " "))
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	flush()
	if len(out) == 0 {
		return nil, fmt.Errorf("empty manifest")
	}
	return out, nil
}

// localizationBase 返回 Bundle-Localization 指向的资源名（不含 .properties）。
// 未声明但存在 % 键时使用 OSGi 默认位置。
func (m manifest) localizationBase() string {
	if base := strings.TrimSpace(m.get("Bundle-Localization")); base != "" {
		return base
	}
	for _, key := range []string{"Bundle-SymbolicName", "Bundle-Name", "Bundle-Version"} {
		if strings.HasPrefix(m.get(key), "%") {
			return defaultBundleLocalization
		}
	}
	return ""
}
