package rodtree

// candidatesJS returns the fillable candidates below the form container in
// document order. Non-text input types are skipped here so that the registry
// only sees elements that can hold a typed value.
const candidatesJS = `function(selector) {
	const root = (selector && document.querySelector(selector)) || document;
	const skip = ['hidden', 'submit', 'button', 'reset', 'image', 'file', 'checkbox', 'radio', 'color', 'range'];
	return Array.from(root.querySelectorAll('input, textarea, select')).filter(function(el) {
		if (el.tagName !== 'INPUT') return true;
		return !skip.includes((el.getAttribute('type') || 'text').toLowerCase());
	});
}`

// attrsJS snapshots the static attributes of one element.
const attrsJS = `function() {
	const el = this;
	const text = function(n) { return n ? (n.innerText || n.textContent || '').trim() : ''; };
	let label = '';
	if (el.labels && el.labels.length) label = text(el.labels[0]);
	if (!label && el.id) label = text(document.querySelector('label[for="' + CSS.escape(el.id) + '"]'));
	if (!label) label = text(el.closest('label'));
	if (!label) label = (el.getAttribute('aria-label') || '').trim();
	if (!label && el.getAttribute('aria-labelledby')) {
		label = el.getAttribute('aria-labelledby').split(/\s+/)
			.map(function(id) { return text(document.getElementById(id)); })
			.filter(Boolean).join(' ');
	}
	return {
		id: el.id || '',
		name: el.getAttribute('name') || '',
		tag: el.tagName.toLowerCase(),
		type: el.tagName === 'INPUT' ? (el.getAttribute('type') || 'text').toLowerCase() : '',
		label: label,
		placeholder: el.getAttribute('placeholder') || '',
		disabled: !!el.disabled,
		readOnly: !!el.readOnly
	};
}`

// lookupHandlerJS is shared by the probe and the invocation script. It
// resolves the element's framework change handler along the three known
// internal shapes and returns {shape, fn} or null.
const lookupHandlerJS = `function lookup(el) {
	const keys = Object.keys(el);
	const isFn = function(p) { return p && typeof p.onChange === 'function'; };
	const propsKey = keys.find(function(k) { return k.startsWith('__reactProps$'); });
	if (propsKey && isFn(el[propsKey])) return {shape: 'current-props', fn: el[propsKey].onChange};
	const fiberKey = keys.find(function(k) {
		return k.startsWith('__reactFiber$') || k.startsWith('__reactInternalInstance$');
	});
	const fiber = fiberKey ? el[fiberKey] : null;
	if (!fiber) return null;
	if (isFn(fiber.memoizedProps)) return {shape: 'memoized-props', fn: fiber.memoizedProps.onChange};
	for (let f = fiber.return; f; f = f.return) {
		const inst = f.stateNode;
		if (inst && !(inst instanceof Node) && isFn(inst.props)) {
			return {shape: 'instance-props', fn: inst.props.onChange.bind(inst)};
		}
	}
	return null;
}`

const probeHandlerJS = `function() {
	` + lookupHandlerJS + `
	const h = lookup(this);
	return h ? h.shape : '';
}`

const invokeHandlerJS = `function(shape, t) {
	` + lookupHandlerJS + `
	const h = lookup(this);
	if (!h || h.shape !== shape) throw new Error('change handler no longer available');
	const el = this;
	const target = new Proxy(el, {
		get: function(obj, prop) {
			if (Object.prototype.hasOwnProperty.call(t, prop)) return t[prop];
			const v = Reflect.get(obj, prop, obj);
			return typeof v === 'function' ? v.bind(obj) : v;
		}
	});
	h.fn({
		type: 'change',
		target: target,
		currentTarget: target,
		nativeEvent: {target: target},
		bubbles: true,
		preventDefault: function() {},
		stopPropagation: function() {},
		isDefaultPrevented: function() { return false; },
		isPropagationStopped: function() { return false; },
		persist: function() {}
	});
}`

// nativeSetJS writes through the prototype's value setter so that an
// instance-level override cannot swallow the write.
const nativeSetJS = `function(v) {
	let proto = HTMLInputElement.prototype;
	if (this instanceof HTMLTextAreaElement) proto = HTMLTextAreaElement.prototype;
	else if (this instanceof HTMLSelectElement) proto = HTMLSelectElement.prototype;
	const desc = Object.getOwnPropertyDescriptor(proto, 'value');
	desc.set.call(this, v);
}`

const dispatchJS = `function(type, t) {
	const ev = type === 'blur'
		? new FocusEvent('blur', {bubbles: false})
		: new Event(type, {bubbles: true, cancelable: false});
	const el = this;
	const target = new Proxy(el, {
		get: function(obj, prop) {
			if (Object.prototype.hasOwnProperty.call(t, prop)) return t[prop];
			const v = Reflect.get(obj, prop, obj);
			return typeof v === 'function' ? v.bind(obj) : v;
		}
	});
	try { Object.defineProperty(ev, 'target', {configurable: true, get: function() { return target; }}); } catch (e) {}
	el.dispatchEvent(ev);
	if (type === 'blur' && document.activeElement === el) el.blur();
}`

const valueJS = `function() { return this.value == null ? '' : String(this.value); }`

const aliveJS = `function() { return this.isConnected; }`

const formJS = `function() { return this.form || this.closest('form'); }`

const submitControlJS = `function() {
	return this.querySelector('button[type="submit"], input[type="submit"], button:not([type])');
}`

const requestSubmitJS = `function(submitter) {
	if (typeof this.requestSubmit === 'function') {
		if (submitter) this.requestSubmit(submitter); else this.requestSubmit();
		return;
	}
	if (submitter && typeof submitter.click === 'function') { submitter.click(); return; }
	this.submit();
}`

// listenJS forwards a named window/document event to an exposed binding.
const listenJS = `function(name, binding) {
	window.__voxfillListeners = window.__voxfillListeners || {};
	if (window.__voxfillListeners[binding]) return;
	const fn = function() { window[binding](''); };
	window.__voxfillListeners[binding] = fn;
	window.addEventListener(name, fn);
	document.addEventListener(name, fn);
}`

const unlistenJS = `function(name, binding) {
	const ls = window.__voxfillListeners || {};
	const fn = ls[binding];
	if (!fn) return;
	window.removeEventListener(name, fn);
	document.removeEventListener(name, fn);
	delete ls[binding];
}`
