package p2

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

const runtimeFeatureXML = `<?xml version="1.0" encoding="UTF-8"?>
<feature
      id="org.eclipse.core.runtime.feature"
      label="%featureName"
      version="1.2.0.v20170518-1049"
      provider-name="%providerName">
   <plugin id="org.eclipse.core.runtime" version="0.0.0" unpack="false"/>
</feature>
`

func extract(t *testing.T, data []byte, extension string) (ComponentAttributes, bool, error) {
	t.Helper()
	logger, _ := newTestLogger()
	return NewExtractor(logger).Extract(bytes.NewReader(data), int64(len(data)), extension)
}

func TestExtractFeatureWithLocalization(t *testing.T) {
	jar := buildJar(t,
		jarEntry{"META-INF/MANIFEST.MF", "Manifest-Version: 1.0\r\n\r\n"},
		jarEntry{"feature.xml", runtimeFeatureXML},
		jarEntry{"feature.properties", "featureName=Eclipse Runtime\nproviderName=Eclipse.org\n"},
	)

	attrs, ok, err := extract(t, jar, "jar")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "org.eclipse.core.runtime", attrs.ComponentName)
	require.Equal(t, "1.2.0.v20170518-1049", attrs.ComponentVersion)
	require.Equal(t, "Eclipse Runtime", attrs.PluginName)
	require.Equal(t, "jar", attrs.Extension)
}

func TestExtractFeatureWithoutBundleKeepsLiteral(t *testing.T) {
	jar := buildJar(t, jarEntry{"feature.xml", runtimeFeatureXML})

	attrs, ok, err := extract(t, jar, "jar")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "%featureName", attrs.PluginName)
}

func TestExtractFeatureFallsBackToPluginAttribute(t *testing.T) {
	jar := buildJar(t, jarEntry{"feature.xml", `<feature plugin="org.example.branding" version="2.0.0" label="Example"/>`})

	attrs, ok, err := extract(t, jar, "jar")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "org.example.branding", attrs.ComponentName)
	require.Equal(t, "Example", attrs.PluginName)
}

func TestExtractManifestStripsQualifier(t *testing.T) {
	manifest := "Manifest-Version: 1.0\r\n" +
		"Bundle-ManifestVersion: 2\r\n" +
		"Bundle-SymbolicName: org.tigris.subversion.clientadapter.svnkit;singleton:=true\r\n" +
		"Bundle-Version: 1.8.5.1\r\n" +
		"Bundle-Name: %pluginName\r\n" +
		"Bundle-Localization: plugin\r\n" +
		"\r\n" +
		"Name: org/tigris/Foo.class\r\n" +
		"SHA-256-Digest: abc\r\n"
	jar := buildJar(t,
		jarEntry{"META-INF/MANIFEST.MF", manifest},
		jarEntry{"plugin.properties", "pluginName=SVNKit Client Adapter\n"},
	)

	attrs, ok, err := extract(t, jar, "jar")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "org.tigris.subversion.clientadapter.svnkit", attrs.ComponentName)
	require.Equal(t, "1.8.5.1", attrs.ComponentVersion)
	require.Equal(t, "SVNKit Client Adapter", attrs.PluginName)
}

func TestExtractManifestContinuationAndDefaultLocalization(t *testing.T) {
	manifest := "Manifest-Version: 1.0\n" +
		"Bundle-SymbolicName: org.example.very.long.symbolic.name.that.wra\n" +
		" ps.across.lines\n" +
		"Bundle-Version: 3.0.0\n" +
		"Bundle-Name: %name\n"
	jar := buildJar(t,
		jarEntry{"META-INF/MANIFEST.MF", manifest},
		jarEntry{"OSGI-INF/l10n/bundle.properties", "name=Wrapped Bundle\n"},
	)

	attrs, ok, err := extract(t, jar, "jar")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "org.example.very.long.symbolic.name.that.wraps.across.lines", attrs.ComponentName)
	require.Equal(t, "Wrapped Bundle", attrs.PluginName)
}

func TestExtractManifestHeaderNamesIgnoreCase(t *testing.T) {
	manifest := "manifest-version: 1.0\r\n" +
		"bundle-symbolicname: org.example.lower;singleton:=true\r\n" +
		"BUNDLE-VERSION: 1.0.0\r\n" +
		"Bundle-name: %name\r\n" +
		"bundle-localization: messages\r\n"
	jar := buildJar(t,
		jarEntry{"META-INF/MANIFEST.MF", manifest},
		jarEntry{"messages.properties", "name=Lower Case Bundle\n"},
	)

	attrs, ok, err := extract(t, jar, "jar")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "org.example.lower", attrs.ComponentName)
	require.Equal(t, "1.0.0", attrs.ComponentVersion)
	require.Equal(t, "Lower Case Bundle", attrs.PluginName)
}

func TestExtractFallsBackToFirstMetaInfEntry(t *testing.T) {
	jar := buildJar(t,
		jarEntry{"META-INF/", ""},
		jarEntry{"META-INF/manifest.txt", "Bundle-SymbolicName: org.example.odd\nBundle-Version: 0.1.0\n"},
	)

	attrs, ok, err := extract(t, jar, "jar")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "org.example.odd", attrs.ComponentName)
}

func TestExtractMalformedFeatureFallsBackToManifest(t *testing.T) {
	jar := buildJar(t,
		jarEntry{"feature.xml", "<feature id="},
		jarEntry{"META-INF/MANIFEST.MF", "Bundle-SymbolicName: org.example.fallback\nBundle-Version: 1.0.0\n"},
	)
	logger, hook := newTestLogger()

	attrs, ok, err := NewExtractor(logger).Extract(bytes.NewReader(jar), int64(len(jar)), "jar")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "org.example.fallback", attrs.ComponentName)
	require.NotEmpty(t, hook.AllEntries())
	require.Equal(t, "extract_failed", hook.AllEntries()[0].Data["action"])
}

func TestExtractNoMetadataIsMiss(t *testing.T) {
	jar := buildJar(t, jarEntry{"readme.txt", "hello"})

	attrs, ok, err := extract(t, jar, "jar")
	require.NoError(t, err)
	require.False(t, ok)
	require.Equal(t, ComponentAttributes{}, attrs)
}

func TestExtractPackGz(t *testing.T) {
	jar := buildJar(t, jarEntry{"META-INF/MANIFEST.MF", "Bundle-SymbolicName: org.example.packed\nBundle-Version: 4.5.6\n"})

	attrs, ok, err := extract(t, gzipBytes(t, jar), "pack.gz")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "org.example.packed", attrs.ComponentName)
	require.Equal(t, "pack.gz", attrs.Extension)
}

func TestExtractPack200IsMiss(t *testing.T) {
	payload := append([]byte{0xCA, 0xFE, 0xD0, 0x0D}, bytes.Repeat([]byte{0}, 32)...)

	_, ok, err := extract(t, gzipBytes(t, payload), "pack.gz")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestExtractRejectsNonArchive(t *testing.T) {
	_, ok, err := extract(t, []byte("definitely not a zip"), "jar")
	require.ErrorIs(t, err, ErrNotArchive)
	require.False(t, ok)

	_, _, err = extract(t, []byte("not gzip"), "pack.gz")
	require.ErrorIs(t, err, ErrNotArchive)
}

func TestExtractBlob(t *testing.T) {
	factory := newTestFactory(t)
	tb := newBlob(t, factory, buildJar(t, jarEntry{"META-INF/MANIFEST.MF", "Bundle-SymbolicName: org.example.blob\nBundle-Version: 1.0.0\n"}))
	defer tb.Release()

	attrs, ok, err := NewExtractor(nil).ExtractBlob(tb, "jar")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "org.example.blob", attrs.ComponentName)
}
