//go:build !tinygo && cgo

package clothaux

import (
	"fmt"
	"log"
	"math"
	"time"

	"github.com/go-gl/gl/v4.6-core/gl"
	"github.com/go-gl/glfw/v3.3/glfw"
	"github.com/soypat/cloth"
	"github.com/soypat/geometry/ms3"
	"github.com/soypat/glgl/v4.6-core/glgl"
)

const vertexShader = `#version 460
in vec3 aPos;
in vec3 aColor;
out vec3 vColor;

uniform vec3 uTarget;
uniform float uYaw;
uniform float uPitch;
uniform float uCamDist;
uniform float uAspect;

void main() {
	vec3 dir;
	dir.x = cos(uPitch) * sin(uYaw);
	dir.y = sin(uPitch);
	dir.z = cos(uPitch) * cos(uYaw);
	vec3 ro = uTarget - dir * uCamDist; // Camera position.

	vec3 ww = normalize(uTarget - ro);                   // Forward vector
	vec3 uu = normalize(cross(ww, vec3(0.0, 1.0, 0.0))); // Right vector
	vec3 vv = cross(uu, ww);                             // Up vector

	vec3 q = aPos - ro;
	float depth = dot(q, ww);
	float near = 0.01 * uCamDist;
	float far = 100.0 * uCamDist;
	const float f = 1.5; // Focal length.
	gl_Position = vec4(
		dot(q, uu) * f / uAspect,
		dot(q, vv) * f,
		(depth*(far+near) - 2.0*far*near) / (far-near),
		depth
	);
	vColor = aColor;
}
` + "\x00"

const fragmentShader = `#version 460
in vec3 vColor;
out vec4 fragColor;
void main() {
	fragColor = vec4(vColor, 1.0);
}
` + "\x00"

func ui(sim *cloth.Simulation, cfg UIConfig) error {
	bb := sim.Bounds()
	diag := ms3.Norm(bb.Size())
	if diag == 0 {
		diag = 1
	}
	window, term, err := startGLFW(cfg.Width, cfg.Height)
	if err != nil {
		return err
	}
	defer term()
	prog, err := glgl.CompileProgram(glgl.ShaderSource{
		Vertex:   vertexShader,
		Fragment: fragmentShader,
	})
	if err != nil {
		return fmt.Errorf("compiling viewer shaders: %w", err)
	}
	defer prog.Delete()
	prog.Bind()

	var vao uint32
	gl.GenVertexArrays(1, &vao)
	gl.BindVertexArray(vao)
	var vbo uint32
	gl.GenBuffers(1, &vbo)
	gl.BindBuffer(gl.ARRAY_BUFFER, vbo)
	defer gl.DeleteBuffers(1, &vbo)
	defer gl.DeleteVertexArrays(1, &vao)

	targetUniform, err := prog.UniformLocation("uTarget\x00")
	if err != nil {
		return err
	}
	yawUniform, err := prog.UniformLocation("uYaw\x00")
	if err != nil {
		return err
	}
	pitchUniform, err := prog.UniformLocation("uPitch\x00")
	if err != nil {
		return err
	}
	camDistUniform, err := prog.UniformLocation("uCamDist\x00")
	if err != nil {
		return err
	}
	aspectUniform, err := prog.UniformLocation("uAspect\x00")
	if err != nil {
		return err
	}
	posAttrib, err := prog.AttribLocation("aPos\x00")
	if err != nil {
		return err
	}
	colorAttrib, err := prog.AttribLocation("aColor\x00")
	if err != nil {
		return err
	}
	const stride = 6 * 4
	gl.EnableVertexAttribArray(posAttrib)
	gl.VertexAttribPointer(posAttrib, 3, gl.FLOAT, false, stride, gl.PtrOffset(0))
	gl.EnableVertexAttribArray(colorAttrib)
	gl.VertexAttribPointer(colorAttrib, 3, gl.FLOAT, false, stride, gl.PtrOffset(3*4))
	gl.Enable(gl.DEPTH_TEST)

	minZoom := float64(diag * 0.01)
	maxZoom := float64(diag * 10)
	var (
		yaw              float64 = math.Pi
		pitch            float64 = -0.5
		lastMouseX       float64
		lastMouseY       float64
		camDist          float64 = float64(diag) * 1.2 // initial camera distance
		firstMouseMove           = true
		isMousePressed           = false
		yawSensitivity           = 0.005
		pitchSensitivity         = 0.005
		running                  = cfg.Running
	)
	logf := func(format string, args ...any) {
		if !cfg.Silent {
			log.Printf(format, args...)
		}
	}
	logf("controls: R run/pause, P reset, H/Y/J/U release corners, drag to orbit, scroll to zoom")
	window.SetCursorPosCallback(func(w *glfw.Window, xpos float64, ypos float64) {
		if !isMousePressed {
			return
		}
		if firstMouseMove {
			lastMouseX = xpos
			lastMouseY = ypos
			firstMouseMove = false
		}
		yaw += (xpos - lastMouseX) * yawSensitivity
		pitch -= (ypos - lastMouseY) * pitchSensitivity // Invert y-axis
		maxPitch := math.Pi/2 - 0.01
		pitch = max(-maxPitch, min(maxPitch, pitch))
		lastMouseX = xpos
		lastMouseY = ypos
	})
	window.SetScrollCallback(func(w *glfw.Window, xoff, yoff float64) {
		camDist -= yoff * (camDist*.1 + .01)
		camDist = max(minZoom, min(maxZoom, camDist))
	})
	window.SetMouseButtonCallback(func(w *glfw.Window, button glfw.MouseButton, action glfw.Action, mods glfw.ModifierKey) {
		if button != glfw.MouseButtonLeft {
			return
		}
		if action == glfw.Press {
			isMousePressed = true
			firstMouseMove = true
			window.SetInputMode(glfw.CursorMode, glfw.CursorDisabled)
		} else if action == glfw.Release {
			isMousePressed = false
			window.SetInputMode(glfw.CursorMode, glfw.CursorNormal)
		}
	})
	window.SetKeyCallback(func(w *glfw.Window, key glfw.Key, scancode int, action glfw.Action, mods glfw.ModifierKey) {
		if action == glfw.Release {
			return
		}
		switch key {
		case glfw.KeyEscape:
			window.SetShouldClose(true)
		case glfw.KeyR:
			if action == glfw.Press {
				running = !running
			}
		case glfw.KeyP:
			running = false
			resetSimulation(sim, cfg.Stepper)
		case glfw.KeyH, glfw.KeyY, glfw.KeyJ, glfw.KeyU:
			releaseCorner(sim, byte(key))
		}
	})

	target := ms3.Scale(0.5, ms3.Add(bb.Min, bb.Max))
	var vertices []float32
	previousTime := glfw.GetTime()
	lastReport := stopwatch()
	ctx := cfg.Context
	for !window.ShouldClose() {
		if ctx != nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
		}
		currentTime := glfw.GetTime()
		elapsed := float32(currentTime - previousTime)
		previousTime = currentTime
		if running {
			_, err = cfg.Stepper.Advance(elapsed * cfg.TimeScale)
			if err != nil {
				return err
			}
		}
		if lastReport() > 5*time.Second {
			st := sim.Stats()
			logf("steps=%d degenerate=%d rejected=%d", st.Steps, st.DegenerateLinks, st.RejectedSteps)
			lastReport = stopwatch()
		}

		vertices = appendLineVertices(vertices[:0], sim, cfg.Colormap)
		width, height := window.GetSize()
		gl.Viewport(0, 0, int32(width), int32(height))
		gl.ClearColor(0.08, 0.08, 0.1, 1.0)
		gl.Clear(gl.COLOR_BUFFER_BIT | gl.DEPTH_BUFFER_BIT)
		prog.Bind()
		gl.Uniform3f(targetUniform, target.X, target.Y, target.Z)
		gl.Uniform1f(yawUniform, float32(yaw))
		gl.Uniform1f(pitchUniform, float32(pitch))
		gl.Uniform1f(camDistUniform, float32(camDist))
		gl.Uniform1f(aspectUniform, float32(width)/float32(max(height, 1)))
		gl.BindVertexArray(vao)
		if len(vertices) > 0 {
			gl.BindBuffer(gl.ARRAY_BUFFER, vbo)
			gl.BufferData(gl.ARRAY_BUFFER, 4*len(vertices), gl.Ptr(vertices), gl.DYNAMIC_DRAW)
			gl.DrawArrays(gl.LINES, 0, int32(len(vertices)/6))
		}
		window.SwapBuffers()
		glfw.PollEvents()
		time.Sleep(time.Second / 120)
	}
	return nil
}

func startGLFW(width, height int) (window *glfw.Window, term func(), err error) {
	if err := glfw.Init(); err != nil {
		return nil, nil, fmt.Errorf("initializing GLFW: %w", err)
	}
	glfw.WindowHint(glfw.ContextVersionMajor, 4)
	glfw.WindowHint(glfw.ContextVersionMinor, 6)
	glfw.WindowHint(glfw.OpenGLProfile, glfw.OpenGLCoreProfile)
	glfw.WindowHint(glfw.Resizable, glfw.True)

	window, err = glfw.CreateWindow(width, height, "cloth simulation", nil, nil)
	if err != nil {
		glfw.Terminate()
		return nil, nil, fmt.Errorf("creating GLFW window: %w", err)
	}
	window.MakeContextCurrent()
	if err := gl.Init(); err != nil {
		glfw.Terminate()
		return nil, nil, fmt.Errorf("initializing OpenGL: %w", err)
	}
	return window, glfw.Terminate, nil
}
