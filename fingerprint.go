// Copyright 2025 Agentic World, LLC (Sherin Thomas)
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

package omnisweep

import (
	"fmt"
	mathrand "math/rand"
	"strings"
)

// HardwareProfile is the set of reported hardware characteristics for one
// session. Values come from realistic desktop distributions; an 128-core
// machine with 2GB of memory is a fingerprint of its own.
type HardwareProfile struct {
	Cores         int
	MemoryGB      int
	Platform      string
	ScreenWidth   int
	ScreenHeight  int
	WebGLVendor   string
	WebGLRenderer string
}

var (
	coreOptions   = []int{4, 6, 8, 12, 16}
	memoryOptions = []int{4, 8, 16, 32}

	// platformPairs keep platform and screen plausible together.
	platformOptions = []string{"Win32", "MacIntel", "Linux x86_64"}

	screenOptions = [][2]int{
		{1920, 1080},
		{1366, 768},
		{1440, 900},
		{1536, 864},
		{2560, 1440},
	}

	webglOptions = [][2]string{
		{"Intel Inc.", "Intel Iris OpenGL Engine"},
		{"Google Inc. (Intel)", "ANGLE (Intel, Intel(R) UHD Graphics 620 Direct3D11 vs_5_0 ps_5_0)"},
		{"Google Inc. (NVIDIA)", "ANGLE (NVIDIA, NVIDIA GeForce GTX 1660 Ti Direct3D11 vs_5_0 ps_5_0)"},
		{"AMD", "AMD Radeon Pro 5500M OpenGL Engine"},
	}

	userAgentOptions = []string{
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36",
		"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36",
		"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/125.0.0.0 Safari/537.36",
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:127.0) Gecko/20100101 Firefox/127.0",
	}

	languageOptions = []string{"en-US", "en-GB", "zh-CN", "ja-JP", "de-DE"}
)

func randomHardwareProfile() HardwareProfile {
	screen := screenOptions[mathrand.Intn(len(screenOptions))]
	gl := webglOptions[mathrand.Intn(len(webglOptions))]
	return HardwareProfile{
		Cores:         coreOptions[mathrand.Intn(len(coreOptions))],
		MemoryGB:      memoryOptions[mathrand.Intn(len(memoryOptions))],
		Platform:      platformOptions[mathrand.Intn(len(platformOptions))],
		ScreenWidth:   screen[0],
		ScreenHeight:  screen[1],
		WebGLVendor:   gl[0],
		WebGLRenderer: gl[1],
	}
}

func randomUserAgent() string {
	return userAgentOptions[mathrand.Intn(len(userAgentOptions))]
}

func randomLanguage() string {
	return languageOptions[mathrand.Intn(len(languageOptions))]
}

// FingerprintScript builds the init script applying the context's
// fingerprint. The applied contract:
//
//   - navigator.webdriver reads as undefined
//   - plugin and mimetype lists are non-empty and plausible
//   - hardware characteristics come from the context's cached profile
//   - canvas and WebGL readbacks are perturbed by a small offset derived
//     from the context's seed — per context, not per call, so repeated reads
//     inside one session stay internally consistent
//
// The script is pure text generation: it is independently testable and
// decoupled from any specific automation primitive.
func FingerprintScript(ec *EvasionContext) string {
	var b strings.Builder

	b.WriteString(`
Object.defineProperty(navigator, 'webdriver', {get: () => undefined});
window.chrome = window.chrome || {runtime: {}};
Object.defineProperty(navigator, 'plugins', {
    get: () => [
        {name: 'Chrome PDF Plugin', filename: 'internal-pdf-viewer', description: 'Portable Document Format'},
        {name: 'Chrome PDF Viewer', filename: 'mhjfbmdgcfjbbpaeojofohoefgiehjai', description: ''},
        {name: 'Native Client', filename: 'internal-nacl-plugin', description: ''}
    ]
});
Object.defineProperty(navigator, 'mimeTypes', {
    get: () => [
        {type: 'application/pdf', suffixes: 'pdf', description: 'Portable Document Format'}
    ]
});
const originalQuery = window.navigator.permissions.query;
window.navigator.permissions.query = (parameters) => (
    parameters.name === 'notifications'
        ? Promise.resolve({state: Notification.permission})
        : originalQuery(parameters)
);
`)

	fmt.Fprintf(&b, `
Object.defineProperty(navigator, 'hardwareConcurrency', {get: () => %d});
Object.defineProperty(navigator, 'deviceMemory', {get: () => %d});
Object.defineProperty(navigator, 'platform', {get: () => %q});
Object.defineProperty(navigator, 'language', {get: () => %q});
Object.defineProperty(navigator, 'languages', {get: () => [%q, 'en']});
Object.defineProperty(screen, 'width', {get: () => %d});
Object.defineProperty(screen, 'height', {get: () => %d});
`, ec.Hardware.Cores, ec.Hardware.MemoryGB, ec.Hardware.Platform,
		ec.Language, ec.Language, ec.Hardware.ScreenWidth, ec.Hardware.ScreenHeight)

	fmt.Fprintf(&b, `
(() => {
    const seed = %d;
    const noise = 0.001;
    const originalToDataURL = HTMLCanvasElement.prototype.toDataURL;
    HTMLCanvasElement.prototype.toDataURL = function() {
        const context = this.getContext('2d');
        if (context) {
            const imageData = context.getImageData(0, 0, this.width, this.height);
            for (let i = 0; i < imageData.data.length; i += 4) {
                const r = Math.sin(seed + i) * 10000;
                imageData.data[i] += (r - Math.floor(r)) * noise;
            }
            context.putImageData(imageData, 0, 0);
        }
        return originalToDataURL.apply(this, arguments);
    };
    const getParameter = WebGLRenderingContext.prototype.getParameter;
    WebGLRenderingContext.prototype.getParameter = function(parameter) {
        if (parameter === 37445) { return %q; }
        if (parameter === 37446) { return %q; }
        return getParameter.apply(this, arguments);
    };
})();
`, ec.CanvasSeed, ec.Hardware.WebGLVendor, ec.Hardware.WebGLRenderer)

	return b.String()
}
