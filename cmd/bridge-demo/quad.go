// quad.go presents whatever compositor.Frame VideoOutput.Frame() returns
// as a full-window textured quad, a stand-in for Flutter's own texture
// layer compositing. Grounded on lib/rendering/shaders/gl_program.go's
// compile/link/check sequence, trimmed to one fixed shader pair instead of
// the mixer's templated multi-source composite shader.
package main

import (
	"fmt"
	"strings"

	"github.com/go-gl/gl/v4.1-core/gl"
	"github.com/go-gl/mathgl/mgl32"

	"github.com/fosdem/gpuvideobridge/lib/compositor"
)

const quadVertexSrc = `#version 410 core
layout(location = 0) in vec2 aPos;
layout(location = 1) in vec2 aUV;
out vec2 vUV;
uniform mat4 uTransform;
void main() {
	vUV = aUV;
	gl_Position = uTransform * vec4(aPos, 0.0, 1.0);
}
` + "\x00"

const quadFragmentSrc = `#version 410 core
in vec2 vUV;
out vec4 fragColor;
uniform sampler2D uTex;
void main() {
	fragColor = texture(uTex, vUV);
}
` + "\x00"

type quadRenderer struct {
	program      uint32
	vao          uint32
	vbo          uint32
	texLoc       int32
	transformLoc int32
}

func newQuadRenderer() *quadRenderer {
	program, err := compileQuadProgram()
	if err != nil {
		// The demo has no software-pixel path for presenting a frame
		// without a GL program; a compile failure here means the driver
		// can't do GLSL 410, which nothing downstream can work around.
		panic(err)
	}

	// Two triangles covering clip space, UV flipped in Y (GL textures
	// from an FBO are bottom-left origin; the bridge never flips, per
	// decoder.FBOTarget.FlipY being false throughout).
	vertices := []float32{
		-1, -1, 0, 1,
		1, -1, 1, 1,
		1, 1, 1, 0,

		-1, -1, 0, 1,
		1, 1, 1, 0,
		-1, 1, 0, 0,
	}

	var vao, vbo uint32
	gl.GenVertexArrays(1, &vao)
	gl.GenBuffers(1, &vbo)
	gl.BindVertexArray(vao)
	gl.BindBuffer(gl.ARRAY_BUFFER, vbo)
	gl.BufferData(gl.ARRAY_BUFFER, len(vertices)*4, gl.Ptr(vertices), gl.STATIC_DRAW)
	gl.VertexAttribPointer(0, 2, gl.FLOAT, false, 4*4, gl.PtrOffset(0))
	gl.EnableVertexAttribArray(0)
	gl.VertexAttribPointer(1, 2, gl.FLOAT, false, 4*4, gl.PtrOffset(2*4))
	gl.EnableVertexAttribArray(1)
	gl.BindVertexArray(0)

	return &quadRenderer{
		program:      program,
		vao:          vao,
		vbo:          vbo,
		texLoc:       gl.GetUniformLocation(program, gl.Str("uTex\x00")),
		transformLoc: gl.GetUniformLocation(program, gl.Str("uTransform\x00")),
	}
}

// draw presents frame letterboxed into (windowW, windowH), preserving the
// frame's own aspect ratio rather than stretching it to fill the window:
// the one piece of layout math the demo needs, hence mgl32 rather than
// hand-rolled scale arithmetic.
func (q *quadRenderer) draw(frame compositor.Frame, windowW, windowH int) {
	if frame.Name == 0 {
		return
	}

	transform := mgl32.Ident4()
	if frame.Width > 0 && frame.Height > 0 && windowW > 0 && windowH > 0 {
		frameAspect := float32(frame.Width) / float32(frame.Height)
		windowAspect := float32(windowW) / float32(windowH)
		sx, sy := float32(1), float32(1)
		if frameAspect > windowAspect {
			sy = windowAspect / frameAspect
		} else {
			sx = frameAspect / windowAspect
		}
		transform = mgl32.Scale3D(sx, sy, 1)
	}

	gl.UseProgram(q.program)
	gl.UniformMatrix4fv(q.transformLoc, 1, false, &transform[0])
	gl.ActiveTexture(gl.TEXTURE0)
	gl.BindTexture(frame.Target, frame.Name)
	gl.Uniform1i(q.texLoc, 0)
	gl.BindVertexArray(q.vao)
	gl.DrawArrays(gl.TRIANGLES, 0, 6)
	gl.BindVertexArray(0)
}

func (q *quadRenderer) destroy() {
	gl.DeleteProgram(q.program)
	gl.DeleteBuffers(1, &q.vbo)
	gl.DeleteVertexArrays(1, &q.vao)
}

func compileQuadProgram() (uint32, error) {
	vs, err := compileShader(quadVertexSrc, gl.VERTEX_SHADER)
	if err != nil {
		return 0, fmt.Errorf("vertex shader: %w", err)
	}
	fs, err := compileShader(quadFragmentSrc, gl.FRAGMENT_SHADER)
	if err != nil {
		return 0, fmt.Errorf("fragment shader: %w", err)
	}

	program := gl.CreateProgram()
	gl.AttachShader(program, vs)
	gl.AttachShader(program, fs)
	gl.LinkProgram(program)

	var status int32
	gl.GetProgramiv(program, gl.LINK_STATUS, &status)
	if status == gl.FALSE {
		var logLength int32
		gl.GetProgramiv(program, gl.INFO_LOG_LENGTH, &logLength)
		logmsg := strings.Repeat("\x00", int(logLength+1))
		gl.GetProgramInfoLog(program, logLength, nil, gl.Str(logmsg))
		return 0, fmt.Errorf("link failed: %v", logmsg)
	}

	gl.DeleteShader(vs)
	gl.DeleteShader(fs)
	return program, nil
}

func compileShader(source string, shaderType uint32) (uint32, error) {
	shader := gl.CreateShader(shaderType)
	csource, free := gl.Strs(source)
	gl.ShaderSource(shader, 1, csource, nil)
	free()
	gl.CompileShader(shader)

	var status int32
	gl.GetShaderiv(shader, gl.COMPILE_STATUS, &status)
	if status == gl.FALSE {
		var logLength int32
		gl.GetShaderiv(shader, gl.INFO_LOG_LENGTH, &logLength)
		logmsg := strings.Repeat("\x00", int(logLength+1))
		gl.GetShaderInfoLog(shader, logLength, nil, gl.Str(logmsg))
		return 0, fmt.Errorf("%v", logmsg)
	}
	return shader, nil
}
